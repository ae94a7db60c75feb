// Package policy models the subset of the cloud policy-analysis output the
// engine consumes, and the binding conditions the engine reads and writes:
// eligibility markers, and the temporary-access windows of activations.
package policy

// Analysis is the engine's view of a policy-analysis response. The adapters
// in internal/providers map the wire representation into this form; every
// nested object is optional and may be absent in partial analyzer output.
type Analysis struct {
	Results []Result

	// NonCriticalErrors lists analysis paths the analyzer could not fully
	// explore. They degrade results but never fail a query.
	NonCriticalErrors []string
}

// Result is one analysis result: a role binding somewhere under the queried
// scope, the access-control lists it grants, and the identities it covers.
type Result struct {
	// AttachedResourceFullName names the resource the binding is attached
	// to. For bindings inherited from a folder or organization this is an
	// ancestor, not the project itself; the ACL resources list the resources
	// the binding actually applies to.
	AttachedResourceFullName string

	Binding *Binding

	ACLs []ACL

	// Identities are the principal identifiers the binding covers, e.g.
	// `user:alice@example.com` or `group:eng@example.com`.
	Identities []string
}

// Binding is an IAM role binding as reported by the analyzer.
type Binding struct {
	Role      string
	Members   []string
	Condition *Condition
}

// Condition is a binding condition: a CEL expression plus the title that,
// for activation bindings, carries the reserved marker.
type Condition struct {
	Title      string
	Expression string
}

// ACL is one access-control list of a result: the resources access applies
// to, and how the analyzer evaluated the binding condition for them.
type ACL struct {
	ResourceFullNames []string
	Evaluation        Evaluation
}

// Evaluation is the analyzer's verdict on a binding condition.
type Evaluation string

const (
	// EvaluationUnspecified covers unconditional bindings and analyzer
	// output that carries no evaluation.
	EvaluationUnspecified Evaluation = ""

	EvaluationTrue        Evaluation = "TRUE"
	EvaluationFalse       Evaluation = "FALSE"
	EvaluationConditional Evaluation = "CONDITIONAL"
)
