package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/policy"
	"go.arvum.net/jitaccess/internal/resource"
)

// projectsGetPermission is the permission every project principal holds; it
// makes the accessible-resources analysis surface all projects the user has
// any standing or eligible role on.
const projectsGetPermission = "resourcemanager.projects.get"

// PolicyAnalyzerClient is the narrow slice of the cloud policy-analysis API
// the repository consumes.
type PolicyAnalyzerClient interface {
	// FindAccessibleResourcesByUser analyzes which resources under scope the
	// user holds role bindings on. permission and fullResourceName narrow
	// the analysis when non-empty; expandResources resolves ancestor
	// bindings down to the individual descendant resources.
	FindAccessibleResourcesByUser(ctx context.Context, scope string, user auth.UserID, permission, fullResourceName string, expandResources bool) (*policy.Analysis, error)

	// FindPermissionedPrincipalsByResource analyzes which principals hold
	// role on the resource.
	FindPermissionedPrincipalsByResource(ctx context.Context, scope, fullResourceName, role string) (*policy.Analysis, error)
}

// PolicyAnalyzerRepository derives eligibility and activation state from
// policy analysis. It is the single source of truth the catalog and the
// activator consult; nothing is cached between calls.
type PolicyAnalyzerRepository struct {
	client PolicyAnalyzerClient
	scope  string
}

// NewPolicyAnalyzerRepository returns a repository analyzing within scope
// (organizations/{id}, folders/{id}, or projects/{id}).
func NewPolicyAnalyzerRepository(client PolicyAnalyzerClient, scope string) *PolicyAnalyzerRepository {
	return &PolicyAnalyzerRepository{
		client: client,
		scope:  scope,
	}
}

// FindProjectsWithPrivileges lists the projects the user holds standing,
// eligible, or activated role bindings on. Bindings with conditions the
// engine does not recognize are ignored.
func (r *PolicyAnalyzerRepository) FindProjectsWithPrivileges(ctx context.Context, user auth.UserID) ([]resource.ProjectID, error) {
	analysis, err := r.client.FindAccessibleResourcesByUser(ctx, r.scope, user, projectsGetPermission, "", true)
	if err != nil {
		return nil, fmt.Errorf("analyzing accessible projects for %s: %w", user, err)
	}

	seen := map[resource.ProjectID]struct{}{}
	for _, result := range analysis.Results {
		if !qualifiesForProjectListing(result.Binding) {
			continue
		}
		for _, acl := range result.ACLs {
			for _, name := range acl.ResourceFullNames {
				if id, ok := resource.ParseProjectFullResourceName(name); ok {
					seen[id] = struct{}{}
				}
			}
		}
	}

	projects := make([]resource.ProjectID, 0, len(seen))
	for id := range seen {
		projects = append(projects, id)
	}
	slices.Sort(projects)
	return projects, nil
}

// A binding counts towards project listing when it grants standing access
// (no condition) or carries a condition the engine recognizes.
func qualifiesForProjectListing(b *policy.Binding) bool {
	if b == nil || b.Condition == nil {
		return true
	}
	return b.Condition.IsSelfApprovalMarker() ||
		b.Condition.IsPeerApprovalMarker() ||
		b.Condition.IsActivation()
}

// FindPrivileges lists the user's privileges on one project, filtered to the
// requested activation types and statuses.
//
// Eligibility requires a marker condition the analyzer evaluated as
// CONDITIONAL; a live activation requires the reserved condition title and a
// TRUE evaluation. An activation shadows the eligible entry for the same
// binding: the merged entry keeps the eligibility's type and reports
// StatusActive. Expired activations (FALSE) and marker conditions with extra
// clauses are ignored.
func (r *PolicyAnalyzerRepository) FindPrivileges(
	ctx context.Context,
	user auth.UserID,
	project resource.ProjectID,
	types []ActivationType,
	statuses []Status,
) (*PrivilegeSet, error) {
	analysis, err := r.client.FindAccessibleResourcesByUser(ctx, r.scope, user, "", project.FullResourceName(), false)
	if err != nil {
		return nil, fmt.Errorf("analyzing privileges of %s on %s: %w", user, project, err)
	}

	type entry struct {
		binding resource.RoleBinding
		typ     ActivationType
	}
	eligible := map[entry]struct{}{}
	active := map[resource.RoleBinding]struct{}{}

	for _, result := range analysis.Results {
		binding := result.Binding
		if binding == nil || binding.Condition == nil {
			continue
		}

		if binding.Condition.IsActivation() {
			if resultCoversProject(result, project, policy.EvaluationTrue) {
				active[resource.NewRoleBinding(project, binding.Role)] = struct{}{}
			}
			continue
		}

		var typ ActivationType
		switch {
		case binding.Condition.IsSelfApprovalMarker():
			typ = SelfApproval
		case binding.Condition.IsPeerApprovalMarker():
			typ = PeerApproval
		default:
			continue
		}

		if resultCoversProject(result, project, policy.EvaluationConditional) {
			eligible[entry{resource.NewRoleBinding(project, binding.Role), typ}] = struct{}{}
		}
	}

	privileges := make([]Privilege, 0, len(eligible))
	for e := range eligible {
		status := StatusAvailable
		if _, ok := active[e.binding]; ok {
			status = StatusActive
		}
		if !slices.Contains(types, e.typ) || !slices.Contains(statuses, status) {
			continue
		}
		privileges = append(privileges, Privilege{
			Binding: e.binding,
			Type:    e.typ,
			Status:  status,
		})
	}
	slices.SortFunc(privileges, Privilege.Compare)

	return &PrivilegeSet{
		Privileges: privileges,
		Warnings:   analysis.NonCriticalErrors,
	}, nil
}

// resultCoversProject reports whether any ACL of the result with the wanted
// evaluation covers the project itself. Expanded analysis may list sibling
// resources in the same ACL; only the queried project counts.
func resultCoversProject(result policy.Result, project resource.ProjectID, wanted policy.Evaluation) bool {
	for _, acl := range result.ACLs {
		if acl.Evaluation != wanted {
			continue
		}
		if slices.Contains(acl.ResourceFullNames, project.FullResourceName()) {
			return true
		}
	}
	return false
}

// FindApproverHolders lists the users holding the eligibility of the given
// type for the role binding, which for peer approval is the set of users who
// may review activation requests. Service accounts and groups are discarded;
// group expansion is delegated entirely to the analyzer.
func (r *PolicyAnalyzerRepository) FindApproverHolders(ctx context.Context, binding resource.RoleBinding, typ ActivationType) ([]auth.UserID, error) {
	analysis, err := r.client.FindPermissionedPrincipalsByResource(ctx, r.scope, binding.Resource, binding.Role)
	if err != nil {
		return nil, fmt.Errorf("analyzing holders of %s: %w", binding, err)
	}

	seen := map[auth.UserID]struct{}{}
	for _, result := range analysis.Results {
		if result.Binding == nil || !markerMatches(result.Binding.Condition, typ) {
			continue
		}
		for _, principal := range result.Identities {
			if user, ok := auth.UserFromPrincipal(principal); ok {
				seen[user] = struct{}{}
			}
		}
	}

	users := make([]auth.UserID, 0, len(seen))
	for user := range seen {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b auth.UserID) int {
		return strings.Compare(a.Email, b.Email)
	})
	return users, nil
}

func markerMatches(c *policy.Condition, typ ActivationType) bool {
	switch typ {
	case SelfApproval:
		return c.IsSelfApprovalMarker()
	case PeerApproval:
		return c.IsPeerApprovalMarker()
	default:
		return false
	}
}
