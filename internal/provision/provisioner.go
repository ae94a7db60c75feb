// Package provision writes temporary, time-conditioned role bindings into
// project IAM policies. Every activation ends here: a read-modify-write of
// the project policy that adds one conditional binding for the requesting
// user, guarded by etag-based optimistic concurrency.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/iam/apiv1/iampb"
	"github.com/google/cel-go/cel"
	"github.com/googleapis/gax-go/v2"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genproto/googleapis/type/expr"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.arvum.net/jitaccess/internal/apierror"
	"go.arvum.net/jitaccess/internal/policy"
	"go.arvum.net/jitaccess/internal/resource"
)

// PolicyClient is the slice of the resource-manager API the provisioner
// needs: reading and replacing a project's IAM policy.
type PolicyClient interface {
	GetIamPolicy(ctx context.Context, req *iampb.GetIamPolicyRequest, opts ...gax.CallOption) (*iampb.Policy, error)
	SetIamPolicy(ctx context.Context, req *iampb.SetIamPolicyRequest, opts ...gax.CallOption) (*iampb.Policy, error)
}

// TemporaryBinding is one grant to provision: a member, a role, and the
// window during which IAM lets the grant take effect.
type TemporaryBinding struct {
	// Member is the IAM principal identifier, e.g. `user:alice@example.com`.
	Member string

	// Role is the IAM role to grant.
	Role string

	// Description is recorded on the binding condition for audit purposes,
	// e.g. `Approved by bob@example.com, justification: b/12345`.
	Description string

	Window policy.Window
}

// BindingOptions control how an add interacts with bindings already present
// on the policy.
type BindingOptions struct {
	// ReplaceExisting removes prior activation bindings for the same member
	// and role before adding, whether or not their window has passed.
	// Activations replace each other instead of accumulating, which also
	// keeps the policy under the per-policy binding cap.
	ReplaceExisting bool

	// FailIfExists makes the add a strict insert: when a binding with the
	// same role, sole member, and condition expression is already present,
	// the add fails with ErrAlreadyExists and the policy is left untouched.
	FailIfExists bool
}

const (
	// Conditional bindings require policy version 3.
	policyVersion = 3

	retryAttempts       = 4
	retryInitialBackoff = 200 * time.Millisecond
)

// Provisioner applies temporary bindings to project IAM policies. Safe for
// concurrent use; concurrent writes to the same policy are serialized by the
// etag, with the losing writer retrying on a fresh read.
type Provisioner struct {
	client PolicyClient
	env    *cel.Env
}

// NewProvisioner builds a provisioner over the policy client.
func NewProvisioner(client PolicyClient) (*Provisioner, error) {
	env, err := policy.NewConditionEnvironment()
	if err != nil {
		return nil, fmt.Errorf("creating condition environment: %w", err)
	}
	return &Provisioner{
		client: client,
		env:    env,
	}, nil
}

// AddProjectBinding adds a temporary binding to the project's IAM policy.
// On an etag conflict the read-modify-write is retried with backoff;
// exhausting the retries surfaces ErrConflict.
func (p *Provisioner) AddProjectBinding(ctx context.Context, project resource.ProjectID, binding TemporaryBinding, opts BindingOptions) error {
	ctx, span := otel.Tracer("").Start(ctx, "jitaccess.provision.AddProjectBinding", trace.WithAttributes(
		attribute.String("jitaccess.provision/project", project.String()),
		attribute.String("jitaccess.provision/role", binding.Role),
	))
	defer span.End()

	err := p.addProjectBinding(ctx, project, binding, opts)
	if err != nil {
		span.SetStatus(otelcodes.Error, err.Error())
	}
	return err
}

func (p *Provisioner) addProjectBinding(ctx context.Context, project resource.ProjectID, binding TemporaryBinding, opts BindingOptions) error {
	expression := binding.Window.Expression()
	if err := policy.CheckExpression(p.env, expression); err != nil {
		return fmt.Errorf("refusing to write malformed binding condition: %v: %w", err, apierror.ErrInvalidArgument)
	}

	newBinding := &iampb.Binding{
		Role:    binding.Role,
		Members: []string{binding.Member},
		Condition: &expr.Expr{
			Title:       policy.ActivationTitle,
			Description: binding.Description,
			Expression:  expression,
		},
	}

	backoff := retry.WithMaxRetries(retryAttempts, retry.NewFibonacci(retryInitialBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := p.client.GetIamPolicy(ctx, &iampb.GetIamPolicyRequest{
			Resource: project.Path(),
			Options: &iampb.GetPolicyOptions{
				RequestedPolicyVersion: policyVersion,
			},
		})
		if err != nil {
			return fmt.Errorf("reading IAM policy of %s: %w", project, apierror.FromGRPC(err))
		}

		if opts.FailIfExists && containsBinding(current, newBinding) {
			return fmt.Errorf("the binding for %s on %s is already present: %w",
				binding.Member, project, apierror.ErrAlreadyExists)
		}
		if opts.ReplaceExisting {
			purgeActivationBindings(current, binding.Member, binding.Role)
		}

		current.Bindings = append(current.Bindings, newBinding)
		current.Version = policyVersion

		if _, err := p.client.SetIamPolicy(ctx, &iampb.SetIamPolicyRequest{
			Resource: project.Path(),
			Policy:   current,
		}); err != nil {
			if isConcurrentModification(err) {
				slog.WarnContext(ctx, "IAM policy changed concurrently, retrying",
					slog.String("project", project.String()),
					slog.String("role", binding.Role))
				return retry.RetryableError(fmt.Errorf("writing IAM policy of %s: %w", project, apierror.ErrConflict))
			}
			return fmt.Errorf("writing IAM policy of %s: %w", project, apierror.FromGRPC(err))
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "temporary binding provisioned",
		slog.String("project", project.String()),
		slog.String("role", binding.Role),
		slog.String("member", binding.Member),
		slog.Time("start", binding.Window.Start),
		slog.Time("end", binding.Window.End))
	return nil
}

// The IAM API signals an etag mismatch as Aborted; some surfaces use
// FailedPrecondition.
func isConcurrentModification(err error) bool {
	s, ok := status.FromError(err)
	if !ok {
		return false
	}
	return s.Code() == codes.Aborted || s.Code() == codes.FailedPrecondition
}

// containsBinding reports whether the policy already carries a binding with
// the same role, sole member, and condition expression. The description is
// deliberately not compared: two approvals of the same request differ only in
// the approver recorded there.
func containsBinding(p *iampb.Policy, b *iampb.Binding) bool {
	for _, existing := range p.GetBindings() {
		if existing.GetRole() != b.GetRole() {
			continue
		}
		if len(existing.GetMembers()) != 1 || existing.GetMembers()[0] != b.GetMembers()[0] {
			continue
		}
		if existing.GetCondition().GetExpression() == b.GetCondition().GetExpression() {
			return true
		}
	}
	return false
}

// purgeActivationBindings drops every binding previously written by the
// engine for the member and role, recognized by the reserved condition
// title. Expired windows are purged the same as live ones.
func purgeActivationBindings(p *iampb.Policy, member, role string) {
	kept := p.GetBindings()[:0]
	for _, b := range p.GetBindings() {
		if b.GetCondition().GetTitle() == policy.ActivationTitle &&
			b.GetRole() == role &&
			len(b.GetMembers()) == 1 && b.GetMembers()[0] == member {
			continue
		}
		kept = append(kept, b)
	}
	p.Bindings = kept
}
