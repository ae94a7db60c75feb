package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfApprovalMarker(t *testing.T) {
	for _, expression := range []string{
		"has({}.jitAccessConstraint)",
		"  has({}.jitAccessConstraint)\n",
		"has({}.JitAccessConstraint)",
		"HAS({}.JITACCESSCONSTRAINT)",
	} {
		c := &Condition{Expression: expression}
		assert.True(t, c.IsSelfApprovalMarker(), "expression %q", expression)
		assert.False(t, c.IsPeerApprovalMarker(), "expression %q", expression)
	}
}

func TestPeerApprovalMarker(t *testing.T) {
	for _, expression := range []string{
		"has({}.multiPartyApprovalConstraint)",
		"has({}.multipartyapprovalconstraint)",
		" has({}.multiPartyApprovalConstraint) ",
	} {
		c := &Condition{Expression: expression}
		assert.True(t, c.IsPeerApprovalMarker(), "expression %q", expression)
		assert.False(t, c.IsSelfApprovalMarker(), "expression %q", expression)
	}
}

func TestMarkerWithExtraClausesIsNotAMarker(t *testing.T) {
	for _, expression := range []string{
		"has({}.jitAccessConstraint) && resource.name == 'Foo'",
		"true && has({}.jitAccessConstraint)",
		"has({}.multiPartyApprovalConstraint) || true",
		"has({}.somethingElse)",
		"",
	} {
		c := &Condition{Expression: expression}
		assert.False(t, c.IsSelfApprovalMarker(), "expression %q", expression)
		assert.False(t, c.IsPeerApprovalMarker(), "expression %q", expression)
	}
}

func TestNilConditionIsNothing(t *testing.T) {
	var c *Condition
	assert.False(t, c.IsSelfApprovalMarker())
	assert.False(t, c.IsPeerApprovalMarker())
	assert.False(t, c.IsActivation())
}

func TestWindowExpression(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	w := NewWindow(start, start.Add(2*time.Hour))

	assert.Equal(t,
		`(request.time >= timestamp("2024-03-01T09:30:00Z") && request.time < timestamp("2024-03-01T11:30:00Z"))`,
		w.Expression())
}

func TestNewWindowTruncatesToSeconds(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 987654321, time.FixedZone("CET", 3600))
	w := NewWindow(start, start.Add(time.Hour))

	assert.Equal(t, time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), w.End)
}

func TestParseWindowRoundTrip(t *testing.T) {
	w := NewWindow(
		time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC),
	)

	parsed, ok := ParseWindow(w.Expression())
	require.True(t, ok)
	assert.True(t, parsed.Start.Equal(w.Start))
	assert.True(t, parsed.End.Equal(w.End))
}

func TestParseWindowToleratesWhitespace(t *testing.T) {
	_, ok := ParseWindow("(request.time >= timestamp(\"2024-03-01T09:30:00Z\")\n  && request.time < timestamp(\"2024-03-01T11:30:00Z\"))")
	assert.True(t, ok)
}

func TestParseWindowRejectsOtherExpressions(t *testing.T) {
	for _, expression := range []string{
		"",
		"request.time >= timestamp(\"2024-03-01T09:30:00Z\")",
		"(request.time >= timestamp(\"not-a-time\") && request.time < timestamp(\"2024-03-01T11:30:00Z\"))",
		"(request.time >= timestamp(\"2024-03-01T09:30:00Z\") && request.time < timestamp(\"2024-03-01T11:30:00Z\")) && true",
		"has({}.jitAccessConstraint)",
	} {
		_, ok := ParseWindow(expression)
		assert.False(t, ok, "expression %q", expression)
	}
}

func TestIsActivation(t *testing.T) {
	w := NewWindow(time.Now(), time.Now().Add(time.Hour))

	assert.True(t, (&Condition{Title: ActivationTitle, Expression: w.Expression()}).IsActivation())
	assert.False(t, (&Condition{Title: "some other title", Expression: w.Expression()}).IsActivation())
	assert.False(t, (&Condition{Title: ActivationTitle, Expression: "true"}).IsActivation())
}

func TestCheckExpression(t *testing.T) {
	env, err := NewConditionEnvironment()
	require.NoError(t, err)

	w := NewWindow(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC))
	assert.NoError(t, CheckExpression(env, w.Expression()))

	assert.Error(t, CheckExpression(env, "request.time >= timestamp("))
	assert.Error(t, CheckExpression(env, `timestamp("2024-03-01T09:30:00Z")`))
}
