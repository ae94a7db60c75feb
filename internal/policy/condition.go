package policy

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Eligibility markers. A binding condition whose entire expression equals one
// of these marks the member as eligible; the clauses deliberately reference
// no real attribute, so IAM itself never evaluates them to true.
const (
	selfApprovalMarker = "has({}.jitAccessConstraint)"
	peerApprovalMarker = "has({}.multiPartyApprovalConstraint)"
)

// ActivationTitle is the reserved condition title that identifies temporary
// bindings written by the engine.
const ActivationTitle = "JIT access activation"

func (c *Condition) isMarker(marker string) bool {
	return c != nil && strings.EqualFold(strings.TrimSpace(c.Expression), marker)
}

// IsSelfApprovalMarker reports whether the condition is exactly the
// self-approval eligibility marker. Comparison trims surrounding whitespace
// and ignores case; an expression that merely contains the marker alongside
// other clauses is not a marker.
func (c *Condition) IsSelfApprovalMarker() bool {
	return c.isMarker(selfApprovalMarker)
}

// IsPeerApprovalMarker reports whether the condition is exactly the
// peer-approval eligibility marker.
func (c *Condition) IsPeerApprovalMarker() bool {
	return c.isMarker(peerApprovalMarker)
}

// IsActivation reports whether the condition marks a temporary binding
// written by the engine: the reserved title plus a time-window expression.
func (c *Condition) IsActivation() bool {
	if c == nil || c.Title != ActivationTitle {
		return false
	}
	_, ok := ParseWindow(c.Expression)
	return ok
}

// Window is the half-open time range [Start, End) of an activation.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow normalizes the range to UTC at second precision, the granularity
// IAM condition timestamps are rendered at.
func NewWindow(start, end time.Time) Window {
	return Window{
		Start: start.UTC().Truncate(time.Second),
		End:   end.UTC().Truncate(time.Second),
	}
}

// Expression renders the CEL clause IAM enforces for the window.
func (w Window) Expression() string {
	return fmt.Sprintf(
		`(request.time >= timestamp("%s") && request.time < timestamp("%s"))`,
		w.Start.Format(time.RFC3339),
		w.End.Format(time.RFC3339),
	)
}

// Whitespace is stripped before matching so that reformatted policies still
// parse.
var windowPattern = regexp.MustCompile(
	`^\(request\.time>=timestamp\("([^"]+)"\)&&request\.time<timestamp\("([^"]+)"\)\)$`)

var windowNormalizer = strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "")

// ParseWindow recovers the activation window from a condition expression
// previously produced by Expression.
func ParseWindow(expression string) (Window, bool) {
	m := windowPattern.FindStringSubmatch(windowNormalizer.Replace(expression))
	if m == nil {
		return Window{}, false
	}

	start, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return Window{}, false
	}
	end, err := time.Parse(time.RFC3339, m[2])
	if err != nil {
		return Window{}, false
	}
	return Window{Start: start, End: end}, true
}

// NewConditionEnvironment returns the CEL environment used to sanity-check
// generated binding conditions before they are written to a policy. IAM
// evaluates conditions against a `request` attribute context; declaring
// request as a map of timestamps is enough to type the window clause.
func NewConditionEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("request", cel.MapType(cel.StringType, cel.TimestampType)),
	)
}

// CheckExpression compiles the expression in env and verifies it evaluates
// to a boolean. Recognition of conditions the engine reads is exact string
// matching; this check only guards what the engine writes.
func CheckExpression(env *cel.Env, expression string) error {
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("condition does not compile: %w", issues.Err())
	}
	if !ast.OutputType().IsEquivalentType(cel.BoolType) {
		return fmt.Errorf("condition must evaluate to a boolean, got %s", ast.OutputType())
	}
	return nil
}
