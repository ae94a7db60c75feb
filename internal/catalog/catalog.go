package catalog

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.arvum.net/jitaccess/internal/apierror"
	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/resource"
)

// Defaults applied to zero-valued options.
const (
	DefaultMinActivationDuration    = 5 * time.Minute
	DefaultMinReviewers             = 1
	DefaultMaxReviewers             = 10
	DefaultMaxJitBindingsPerRequest = 5
)

// ProjectSearcher lists project ids matching a resource-manager search
// query. Wired to the resource-manager adapter in production.
type ProjectSearcher func(ctx context.Context, query string) ([]resource.ProjectID, error)

// Options configure the catalog. Scope and MaxActivationDuration are
// required; the remaining fields default as documented.
type Options struct {
	// Scope constrains all analysis: organizations/{id}, folders/{id}, or
	// projects/{id}.
	Scope string

	// AvailableProjectsQuery, when non-empty, switches ListProjects from
	// policy analysis to a resource-manager search with this query. Faster
	// on large organizations, at the cost of listing projects the user may
	// not be eligible on.
	AvailableProjectsQuery string

	MaxActivationDuration time.Duration

	// MinActivationDuration defaults to 5 minutes.
	MinActivationDuration time.Duration

	// MinReviewers defaults to 1 and must not be smaller.
	MinReviewers int

	// MaxReviewers defaults to 10.
	MaxReviewers int

	// MaxJitBindingsPerRequest caps how many roles one self-approval request
	// may cover. Defaults to 5.
	MaxJitBindingsPerRequest int
}

func (o Options) withDefaults() Options {
	if o.MinActivationDuration == 0 {
		o.MinActivationDuration = DefaultMinActivationDuration
	}
	if o.MinReviewers == 0 {
		o.MinReviewers = DefaultMinReviewers
	}
	if o.MaxReviewers == 0 {
		o.MaxReviewers = DefaultMaxReviewers
	}
	if o.MaxJitBindingsPerRequest == 0 {
		o.MaxJitBindingsPerRequest = DefaultMaxJitBindingsPerRequest
	}
	return o
}

func (o Options) validate() error {
	if o.Scope == "" {
		return fmt.Errorf("scope is required")
	}
	if o.MaxActivationDuration <= 0 {
		return fmt.Errorf("maximum activation duration is required")
	}
	if o.MinActivationDuration > o.MaxActivationDuration {
		return fmt.Errorf("minimum activation duration %s exceeds maximum %s",
			o.MinActivationDuration, o.MaxActivationDuration)
	}
	if o.MinReviewers < 1 {
		return fmt.Errorf("at least one reviewer must be required")
	}
	if o.MaxReviewers < o.MinReviewers {
		return fmt.Errorf("maximum number of reviewers %d is smaller than minimum %d",
			o.MaxReviewers, o.MinReviewers)
	}
	return nil
}

// Catalog lists a user's projects and privileges and guards activation and
// approval requests. Safe for concurrent use.
type Catalog struct {
	repository     *PolicyAnalyzerRepository
	searchProjects ProjectSearcher
	opts           Options
}

// NewCatalog builds a catalog over the repository. searchProjects may be nil
// when AvailableProjectsQuery is unset.
func NewCatalog(repository *PolicyAnalyzerRepository, searchProjects ProjectSearcher, opts Options) (*Catalog, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog options: %w", err)
	}
	if opts.AvailableProjectsQuery != "" && searchProjects == nil {
		return nil, fmt.Errorf("invalid catalog options: a project searcher is required with an available-projects query")
	}

	return &Catalog{
		repository:     repository,
		searchProjects: searchProjects,
		opts:           opts,
	}, nil
}

// Options returns the effective, defaulted options.
func (c *Catalog) Options() Options {
	return c.opts
}

// ListProjects lists the projects the user can see in the catalog.
func (c *Catalog) ListProjects(ctx context.Context, user auth.UserID) ([]resource.ProjectID, error) {
	if c.opts.AvailableProjectsQuery != "" {
		return c.searchProjects(ctx, c.opts.AvailableProjectsQuery)
	}
	return c.repository.FindProjectsWithPrivileges(ctx, user)
}

// ListPrivileges lists the user's available and active privileges on the
// project.
func (c *Catalog) ListPrivileges(ctx context.Context, user auth.UserID, project resource.ProjectID) (*PrivilegeSet, error) {
	return c.repository.FindPrivileges(ctx, user, project,
		[]ActivationType{SelfApproval, PeerApproval},
		[]Status{StatusAvailable, StatusActive})
}

// ListReviewers lists the users who could approve an activation of binding,
// excluding the requesting user. The requesting user must itself hold
// peer-approval eligibility for the binding.
func (c *Catalog) ListReviewers(ctx context.Context, user auth.UserID, binding resource.RoleBinding) ([]auth.UserID, error) {
	project, ok := binding.ProjectID()
	if !ok {
		return nil, fmt.Errorf("%q is not a project resource: %w", binding.Resource, apierror.ErrInvalidArgument)
	}

	if err := c.verifyEligibility(ctx, user, project, PeerApproval, []resource.RoleBinding{binding}); err != nil {
		return nil, err
	}

	holders, err := c.repository.FindApproverHolders(ctx, binding, PeerApproval)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(holders, func(holder auth.UserID) bool {
		return holder == user
	}), nil
}

// ValidateRequest checks the constraints that hold regardless of IAM state:
// duration bounds and, for peer approval, the reviewer count.
func (c *Catalog) ValidateRequest(req *Request) error {
	if req.Duration() < c.opts.MinActivationDuration {
		return fmt.Errorf("activation duration must be no shorter than %s: %w",
			c.opts.MinActivationDuration, apierror.ErrInvalidArgument)
	}
	if req.Duration() > c.opts.MaxActivationDuration {
		return fmt.Errorf("activation duration must be no longer than %s: %w",
			c.opts.MaxActivationDuration, apierror.ErrInvalidArgument)
	}

	if req.Type == PeerApproval {
		if len(req.Bindings) != 1 {
			return fmt.Errorf("a peer-approval request covers exactly one role: %w", apierror.ErrInvalidArgument)
		}
		if len(req.Reviewers) < c.opts.MinReviewers {
			return fmt.Errorf("at least %d reviewers must be specified: %w",
				c.opts.MinReviewers, apierror.ErrInvalidArgument)
		}
		if len(req.Reviewers) > c.opts.MaxReviewers {
			return fmt.Errorf("the number of reviewers must not exceed %d: %w",
				c.opts.MaxReviewers, apierror.ErrInvalidArgument)
		}
	}
	return nil
}

// VerifyUserCanRequest checks that the request is well-formed and that the
// requesting user currently holds the matching eligibility for every
// requested binding.
func (c *Catalog) VerifyUserCanRequest(ctx context.Context, req *Request) error {
	if err := c.ValidateRequest(req); err != nil {
		return err
	}
	return c.verifyEligibility(ctx, req.User, req.Project, req.Type, req.Bindings)
}

// VerifyUserCanApprove checks that the approver is listed as a reviewer on
// the request and holds peer-approval eligibility for the requested binding.
func (c *Catalog) VerifyUserCanApprove(ctx context.Context, approver auth.UserID, req *Request) error {
	if err := c.ValidateRequest(req); err != nil {
		return err
	}
	if req.Type != PeerApproval {
		return fmt.Errorf("only peer-approval requests can be approved: %w", apierror.ErrInvalidArgument)
	}
	if !req.HasReviewer(approver) {
		return fmt.Errorf("user %s is not a reviewer of request %s: %w",
			approver, req.ID, apierror.ErrAccessDenied)
	}

	holders, err := c.repository.FindApproverHolders(ctx, req.Bindings[0], PeerApproval)
	if err != nil {
		return err
	}
	if !slices.Contains(holders, approver) {
		return fmt.Errorf("user %s is not allowed to approve activations of %s: %w",
			approver, req.Bindings[0], apierror.ErrAccessDenied)
	}
	return nil
}

// verifyEligibility checks the user holds an available or active privilege
// of the given type for every binding.
func (c *Catalog) verifyEligibility(ctx context.Context, user auth.UserID, project resource.ProjectID, typ ActivationType, bindings []resource.RoleBinding) error {
	set, err := c.repository.FindPrivileges(ctx, user, project,
		[]ActivationType{typ},
		[]Status{StatusAvailable, StatusActive})
	if err != nil {
		return err
	}

	held := make(map[resource.RoleBinding]struct{}, len(set.Privileges))
	for _, privilege := range set.Privileges {
		held[privilege.Binding] = struct{}{}
	}
	for _, binding := range bindings {
		if _, ok := held[binding]; !ok {
			return fmt.Errorf("user %s is not allowed to activate %s using %s: %w",
				user, binding.Role, typ, apierror.ErrAccessDenied)
		}
	}
	return nil
}
