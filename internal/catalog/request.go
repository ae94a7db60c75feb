package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/resource"
)

// StartTimeTolerance is how far in the past a request's start time may lie.
// It absorbs the delay between a client picking "now" and the server handling
// the request, and is applied again when the request is signed into a token.
const StartTimeTolerance = time.Minute

// ActivationID is the opaque identifier of an activation request. The prefix
// encodes the activation type so ids are self-describing in logs and tokens.
type ActivationID string

// NewActivationID mints a fresh id for a request of the given type.
func NewActivationID(typ ActivationType) ActivationID {
	prefix := "jit-"
	if typ == PeerApproval {
		prefix = "mpa-"
	}
	return ActivationID(prefix + uuid.NewString())
}

func (id ActivationID) String() string {
	return string(id)
}

// IsPeerApproval reports whether the id was minted for a peer-approval
// request.
func (id ActivationID) IsPeerApproval() bool {
	return strings.HasPrefix(string(id), "mpa-")
}

// Request is an activation request. Self-approval requests may cover several
// role bindings of one project and carry no reviewers; peer-approval requests
// cover exactly one binding and list the reviewers asked to approve it.
type Request struct {
	ID   ActivationID
	Type ActivationType

	// User is the requesting user, the beneficiary of the activation.
	User auth.UserID

	Project  resource.ProjectID
	Bindings []resource.RoleBinding

	// Reviewers is empty for self-approval requests.
	Reviewers []auth.UserID

	Justification string

	// StartTime and EndTime bound the requested grant; EndTime is exclusive.
	StartTime time.Time
	EndTime   time.Time
}

// Duration of the requested grant.
func (r *Request) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// HasReviewer reports whether user is one of the request's reviewers.
func (r *Request) HasReviewer(user auth.UserID) bool {
	for _, reviewer := range r.Reviewers {
		if reviewer == user {
			return true
		}
	}
	return false
}
