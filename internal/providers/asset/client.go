// Package asset adapts the Cloud Asset Inventory policy analyzer to the
// engine's analysis model. All eligibility discovery runs through the two
// analysis shapes here: what a user can access, and who can access a
// resource.
package asset

import (
	"context"
	"fmt"
	"time"

	assetapi "cloud.google.com/go/asset/apiv1"
	"cloud.google.com/go/asset/apiv1/assetpb"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/durationpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"go.arvum.net/jitaccess/internal/apierror"
	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/policy"
)

// analysisTimeout bounds a single policy analysis on the server side.
// Analyses that exceed it come back partial, with the unexplored paths
// reported as non-critical errors.
const analysisTimeout = 30 * time.Second

// Client analyzes IAM policies through the Cloud Asset Inventory API.
type Client struct {
	client *assetapi.Client
	clock  clockwork.Clock
}

// NewClient builds an asset-inventory client. Conditions are evaluated
// against the clock's notion of now.
func NewClient(ctx context.Context, clock clockwork.Clock, opts ...option.ClientOption) (*Client, error) {
	client, err := assetapi.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating asset inventory client: %w", err)
	}
	return &Client{
		client: client,
		clock:  clock,
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// FindAccessibleResourcesByUser analyzes which resources under scope the user
// holds role bindings on. permission and fullResourceName narrow the analysis
// when non-empty; expandResources resolves bindings inherited from folders
// and organizations down to the individual projects they cover.
func (c *Client) FindAccessibleResourcesByUser(ctx context.Context, scope string, user auth.UserID, permission, fullResourceName string, expandResources bool) (*policy.Analysis, error) {
	query := &assetpb.IamPolicyAnalysisQuery{
		Scope: scope,
		IdentitySelector: &assetpb.IamPolicyAnalysisQuery_IdentitySelector{
			Identity: user.PrincipalIdentifier(),
		},
		Options: &assetpb.IamPolicyAnalysisQuery_Options{
			ExpandResources: expandResources,
		},
	}
	if permission != "" {
		query.AccessSelector = &assetpb.IamPolicyAnalysisQuery_AccessSelector{
			Permissions: []string{permission},
		}
	}
	if fullResourceName != "" {
		query.ResourceSelector = &assetpb.IamPolicyAnalysisQuery_ResourceSelector{
			FullResourceName: fullResourceName,
		}
	}

	return c.analyze(ctx, "jitaccess.providers.FindAccessibleResourcesByUser", query)
}

// FindPermissionedPrincipalsByResource analyzes which principals hold role on
// the resource. Groups are expanded by the analyzer, so the identities of the
// results list individual members.
func (c *Client) FindPermissionedPrincipalsByResource(ctx context.Context, scope, fullResourceName, role string) (*policy.Analysis, error) {
	query := &assetpb.IamPolicyAnalysisQuery{
		Scope: scope,
		ResourceSelector: &assetpb.IamPolicyAnalysisQuery_ResourceSelector{
			FullResourceName: fullResourceName,
		},
		AccessSelector: &assetpb.IamPolicyAnalysisQuery_AccessSelector{
			Roles: []string{role},
		},
		Options: &assetpb.IamPolicyAnalysisQuery_Options{
			ExpandGroups: true,
		},
	}

	return c.analyze(ctx, "jitaccess.providers.FindPermissionedPrincipalsByResource", query)
}

func (c *Client) analyze(ctx context.Context, span string, query *assetpb.IamPolicyAnalysisQuery) (*policy.Analysis, error) {
	ctx, s := otel.Tracer("").Start(ctx, span, trace.WithAttributes(
		attribute.String("jitaccess.analysis/scope", query.GetScope()),
	))
	defer s.End()

	// Pin condition evaluation to now so activation windows come back as
	// TRUE or FALSE rather than CONDITIONAL.
	query.ConditionContext = &assetpb.IamPolicyAnalysisQuery_ConditionContext{
		TimeContext: &assetpb.IamPolicyAnalysisQuery_ConditionContext_AccessTime{
			AccessTime: timestamppb.New(c.clock.Now()),
		},
	}

	resp, err := c.client.AnalyzeIamPolicy(ctx, &assetpb.AnalyzeIamPolicyRequest{
		AnalysisQuery:    query,
		ExecutionTimeout: durationpb.New(analysisTimeout),
	})
	if err != nil {
		s.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("analyzing IAM policy: %w", apierror.FromGRPC(err))
	}

	return toAnalysis(resp.GetMainAnalysis()), nil
}

func toAnalysis(main *assetpb.AnalyzeIamPolicyResponse_IamPolicyAnalysis) *policy.Analysis {
	analysis := &policy.Analysis{}

	for _, result := range main.GetAnalysisResults() {
		mapped := policy.Result{
			AttachedResourceFullName: result.GetAttachedResourceFullName(),
		}

		if binding := result.GetIamBinding(); binding != nil {
			mapped.Binding = &policy.Binding{
				Role:    binding.GetRole(),
				Members: binding.GetMembers(),
			}
			if condition := binding.GetCondition(); condition != nil {
				mapped.Binding.Condition = &policy.Condition{
					Title:      condition.GetTitle(),
					Expression: condition.GetExpression(),
				}
			}
		}

		for _, acl := range result.GetAccessControlLists() {
			names := make([]string, 0, len(acl.GetResources()))
			for _, res := range acl.GetResources() {
				names = append(names, res.GetFullResourceName())
			}
			mapped.ACLs = append(mapped.ACLs, policy.ACL{
				ResourceFullNames: names,
				Evaluation:        toEvaluation(acl.GetConditionEvaluation()),
			})
		}

		for _, identity := range result.GetIdentityList().GetIdentities() {
			mapped.Identities = append(mapped.Identities, identity.GetName())
		}

		analysis.Results = append(analysis.Results, mapped)
	}

	for _, state := range main.GetNonCriticalErrors() {
		analysis.NonCriticalErrors = append(analysis.NonCriticalErrors,
			fmt.Sprintf("%s: %s", state.GetCode(), state.GetCause()))
	}

	return analysis
}

func toEvaluation(evaluation *assetpb.ConditionEvaluation) policy.Evaluation {
	switch evaluation.GetEvaluationValue() {
	case assetpb.ConditionEvaluation_TRUE:
		return policy.EvaluationTrue
	case assetpb.ConditionEvaluation_FALSE:
		return policy.EvaluationFalse
	case assetpb.ConditionEvaluation_CONDITIONAL:
		return policy.EvaluationConditional
	default:
		return policy.EvaluationUnspecified
	}
}
