package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/policy"
	"go.arvum.net/jitaccess/internal/resource"
)

const testScope = "organizations/128"

const (
	selfApprovalMarker = "has({}.jitAccessConstraint)"
	peerApprovalMarker = "has({}.multiPartyApprovalConstraint)"
)

var (
	alice = auth.UserID{Email: "alice@example.com"}
	bob   = auth.UserID{Email: "bob@example.com"}
	carol = auth.UserID{Email: "carol@example.com"}

	project1 = resource.ProjectID("project-1")
)

type analyzerCall struct {
	scope            string
	user             auth.UserID
	permission       string
	fullResourceName string
	expandResources  bool
}

// stubAnalyzer serves canned analyses verbatim, recording how it was
// queried.
type stubAnalyzer struct {
	accessible *policy.Analysis
	principals map[string]*policy.Analysis // role -> analysis

	calls []analyzerCall
}

func (s *stubAnalyzer) FindAccessibleResourcesByUser(_ context.Context, scope string, user auth.UserID, permission, fullResourceName string, expandResources bool) (*policy.Analysis, error) {
	s.calls = append(s.calls, analyzerCall{scope, user, permission, fullResourceName, expandResources})
	if s.accessible == nil {
		return &policy.Analysis{}, nil
	}
	return s.accessible, nil
}

func (s *stubAnalyzer) FindPermissionedPrincipalsByResource(_ context.Context, scope, _, role string) (*policy.Analysis, error) {
	s.calls = append(s.calls, analyzerCall{scope: scope})
	if a, ok := s.principals[role]; ok {
		return a, nil
	}
	return &policy.Analysis{}, nil
}

// conditionalResult is a binding with the given condition expression,
// evaluated as eval for the project itself.
func conditionalResult(project resource.ProjectID, role, expression string, eval policy.Evaluation) policy.Result {
	return policy.Result{
		AttachedResourceFullName: project.FullResourceName(),
		Binding: &policy.Binding{
			Role:      role,
			Condition: &policy.Condition{Expression: expression},
		},
		ACLs: []policy.ACL{{
			ResourceFullNames: []string{project.FullResourceName()},
			Evaluation:        eval,
		}},
	}
}

// activationResult is a temporary binding previously written by the engine.
func activationResult(project resource.ProjectID, role string, window policy.Window, eval policy.Evaluation) policy.Result {
	return policy.Result{
		AttachedResourceFullName: project.FullResourceName(),
		Binding: &policy.Binding{
			Role: role,
			Condition: &policy.Condition{
				Title:      policy.ActivationTitle,
				Expression: window.Expression(),
			},
		},
		ACLs: []policy.ACL{{
			ResourceFullNames: []string{project.FullResourceName()},
			Evaluation:        eval,
		}},
	}
}

func standingResult(projects ...resource.ProjectID) policy.Result {
	names := make([]string, 0, len(projects))
	for _, p := range projects {
		names = append(names, p.FullResourceName())
	}
	return policy.Result{
		Binding: &policy.Binding{Role: "roles/browser"},
		ACLs:    []policy.ACL{{ResourceFullNames: names}},
	}
}

func testWindow() policy.Window {
	return policy.NewWindow(
		time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC))
}

func TestFindProjectsCollectsRecognizedBindings(t *testing.T) {
	analyzer := &stubAnalyzer{accessible: &policy.Analysis{
		Results: []policy.Result{
			standingResult("project-a"),
			conditionalResult("project-b", "roles/viewer", selfApprovalMarker, policy.EvaluationConditional),
			conditionalResult("project-c", "roles/viewer", peerApprovalMarker, policy.EvaluationConditional),
			activationResult("project-d", "roles/viewer", testWindow(), policy.EvaluationTrue),

			// Conditions the engine does not recognize grant nothing here.
			conditionalResult("project-e", "roles/viewer",
				`resource.name.startsWith("projects/project-e")`, policy.EvaluationConditional),

			// Non-project resources and duplicates.
			{
				Binding: &policy.Binding{Role: "roles/viewer"},
				ACLs: []policy.ACL{{ResourceFullNames: []string{
					"//cloudresourcemanager.googleapis.com/folders/95",
					resource.ProjectID("project-a").FullResourceName(),
				}}},
			},
		},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, testScope)

	projects, err := repo.FindProjectsWithPrivileges(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, []resource.ProjectID{"project-a", "project-b", "project-c", "project-d"}, projects)

	require.Len(t, analyzer.calls, 1)
	call := analyzer.calls[0]
	assert.Equal(t, testScope, call.scope)
	assert.Equal(t, alice, call.user)
	assert.Equal(t, "resourcemanager.projects.get", call.permission)
	assert.Empty(t, call.fullResourceName)
	assert.True(t, call.expandResources, "ancestor bindings must be expanded down to projects")
}

func TestFindPrivilegesMergesActivationsIntoEligibilities(t *testing.T) {
	analyzer := &stubAnalyzer{accessible: &policy.Analysis{
		Results: []policy.Result{
			// Eligible and currently activated: one ACTIVE entry.
			conditionalResult(project1, "roles/viewer", selfApprovalMarker, policy.EvaluationConditional),
			activationResult(project1, "roles/viewer", testWindow(), policy.EvaluationTrue),

			// Eligible only.
			conditionalResult(project1, "roles/compute.admin", peerApprovalMarker, policy.EvaluationConditional),

			// Expired activation: does not shadow the eligibility.
			conditionalResult(project1, "roles/logging.admin", selfApprovalMarker, policy.EvaluationConditional),
			activationResult(project1, "roles/logging.admin", testWindow(), policy.EvaluationFalse),

			// An activation without a surviving eligibility is not listed.
			activationResult(project1, "roles/orphan.admin", testWindow(), policy.EvaluationTrue),

			// A marker buried in a larger expression is not an eligibility.
			conditionalResult(project1, "roles/storage.admin",
				selfApprovalMarker+" && request.time < timestamp(\"2030-01-01T00:00:00Z\")",
				policy.EvaluationConditional),

			// Markers must evaluate CONDITIONAL.
			conditionalResult(project1, "roles/bigquery.admin", selfApprovalMarker, policy.EvaluationTrue),
		},
		NonCriticalErrors: []string{"folder 95 could not be analyzed"},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, testScope)

	set, err := repo.FindPrivileges(context.Background(), alice, project1,
		[]ActivationType{SelfApproval, PeerApproval},
		[]Status{StatusAvailable, StatusActive})
	require.NoError(t, err)

	assert.Equal(t, []Privilege{
		{Binding: resource.NewRoleBinding(project1, "roles/compute.admin"), Type: PeerApproval, Status: StatusAvailable},
		{Binding: resource.NewRoleBinding(project1, "roles/logging.admin"), Type: SelfApproval, Status: StatusAvailable},
		{Binding: resource.NewRoleBinding(project1, "roles/viewer"), Type: SelfApproval, Status: StatusActive},
	}, set.Privileges)
	assert.Equal(t, []string{"folder 95 could not be analyzed"}, set.Warnings)

	require.Len(t, analyzer.calls, 1)
	call := analyzer.calls[0]
	assert.Empty(t, call.permission)
	assert.Equal(t, project1.FullResourceName(), call.fullResourceName)
	assert.False(t, call.expandResources)
}

func TestFindPrivilegesFiltersTypesAndStatuses(t *testing.T) {
	analyzer := &stubAnalyzer{accessible: &policy.Analysis{
		Results: []policy.Result{
			conditionalResult(project1, "roles/viewer", selfApprovalMarker, policy.EvaluationConditional),
			activationResult(project1, "roles/viewer", testWindow(), policy.EvaluationTrue),
			conditionalResult(project1, "roles/compute.admin", peerApprovalMarker, policy.EvaluationConditional),
		},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, testScope)

	set, err := repo.FindPrivileges(context.Background(), alice, project1,
		[]ActivationType{SelfApproval},
		[]Status{StatusAvailable, StatusActive})
	require.NoError(t, err)
	require.Len(t, set.Privileges, 1)
	assert.Equal(t, "roles/viewer", set.Privileges[0].Binding.Role)

	set, err = repo.FindPrivileges(context.Background(), alice, project1,
		[]ActivationType{SelfApproval, PeerApproval},
		[]Status{StatusAvailable})
	require.NoError(t, err)
	require.Len(t, set.Privileges, 1)
	assert.Equal(t, "roles/compute.admin", set.Privileges[0].Binding.Role)
}

func TestFindPrivilegesRequiresAclToCoverProject(t *testing.T) {
	// An expanded ACL may list sibling resources; eligibility on a sibling
	// is not eligibility here.
	sibling := resource.ProjectID("project-2")
	analyzer := &stubAnalyzer{accessible: &policy.Analysis{
		Results: []policy.Result{{
			AttachedResourceFullName: "//cloudresourcemanager.googleapis.com/folders/95",
			Binding: &policy.Binding{
				Role:      "roles/viewer",
				Condition: &policy.Condition{Expression: selfApprovalMarker},
			},
			ACLs: []policy.ACL{{
				ResourceFullNames: []string{sibling.FullResourceName()},
				Evaluation:        policy.EvaluationConditional,
			}},
		}},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, testScope)

	set, err := repo.FindPrivileges(context.Background(), alice, project1,
		[]ActivationType{SelfApproval, PeerApproval},
		[]Status{StatusAvailable, StatusActive})
	require.NoError(t, err)
	assert.Empty(t, set.Privileges)
}

func TestFindApproverHoldersKeepsOnlyMatchingUsers(t *testing.T) {
	binding := resource.NewRoleBinding(project1, "roles/compute.admin")
	analyzer := &stubAnalyzer{principals: map[string]*policy.Analysis{
		"roles/compute.admin": {Results: []policy.Result{
			{
				Binding: &policy.Binding{
					Role:      binding.Role,
					Condition: &policy.Condition{Expression: peerApprovalMarker},
				},
				Identities: []string{
					carol.PrincipalIdentifier(),
					bob.PrincipalIdentifier(),
					"serviceAccount:robot@test-project.iam.gserviceaccount.com",
					"group:eng@example.com",
				},
			},
			// Same holder reported through a second binding: deduplicated.
			{
				Binding: &policy.Binding{
					Role:      binding.Role,
					Condition: &policy.Condition{Expression: peerApprovalMarker},
				},
				Identities: []string{bob.PrincipalIdentifier()},
			},
			// Self-approval eligibility does not make an approver.
			{
				Binding: &policy.Binding{
					Role:      binding.Role,
					Condition: &policy.Condition{Expression: selfApprovalMarker},
				},
				Identities: []string{alice.PrincipalIdentifier()},
			},
		}},
	}}
	repo := NewPolicyAnalyzerRepository(analyzer, testScope)

	holders, err := repo.FindApproverHolders(context.Background(), binding, PeerApproval)
	require.NoError(t, err)
	assert.Equal(t, []auth.UserID{bob, carol}, holders)

	holders, err = repo.FindApproverHolders(context.Background(), binding, SelfApproval)
	require.NoError(t, err)
	assert.Equal(t, []auth.UserID{alice}, holders)
}
