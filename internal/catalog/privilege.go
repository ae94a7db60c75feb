// Package catalog discovers which privileged roles a user may activate, and
// guards activation and approval requests against that ground truth. All
// state is derived on demand from conditional IAM role bindings surfaced by
// policy analysis; the catalog itself holds nothing but configuration.
package catalog

import (
	"strings"

	"go.arvum.net/jitaccess/internal/resource"
)

// ActivationType distinguishes how an eligibility can be activated.
type ActivationType string

const (
	// SelfApproval lets the eligible user activate on their own with a
	// justification.
	SelfApproval ActivationType = "JIT"

	// PeerApproval requires sign-off by a peer holding peer-approval
	// eligibility for the same role binding.
	PeerApproval ActivationType = "MPA"
)

// Status of a privilege from the perspective of one user.
type Status string

const (
	// StatusAvailable marks an eligibility that is not currently activated.
	StatusAvailable Status = "AVAILABLE"

	// StatusActive marks an eligibility with a live activation binding.
	StatusActive Status = "ACTIVE"

	// StatusActivationPending marks a peer-approval request that is awaiting
	// review. Analysis never produces it; only the request-tracking surface
	// does.
	StatusActivationPending Status = "ACTIVATION_PENDING"
)

// Privilege is one activatable, or activated, role binding of a user.
type Privilege struct {
	Binding resource.RoleBinding
	Type    ActivationType
	Status  Status
}

// Compare orders privileges by binding (resource, then role), then type.
func (p Privilege) Compare(other Privilege) int {
	if c := p.Binding.Compare(other.Binding); c != 0 {
		return c
	}
	return strings.Compare(string(p.Type), string(other.Type))
}

// PrivilegeSet is a sorted, deduplicated collection of privileges. A given
// (binding, type) pair appears at most once; when a live activation shadows
// an eligibility, only the active entry is retained.
type PrivilegeSet struct {
	Privileges []Privilege

	// Warnings surface non-critical analysis errors. Results may be
	// incomplete but are never wrong.
	Warnings []string
}
