// Package activation drives requests through their lifecycle: building
// self-approval and peer-approval requests, activating the former directly,
// and approving the latter on behalf of a reviewer. Every path ends in the
// provisioner writing a temporary binding; the activator owns the guards
// that run before that write.
package activation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"go.arvum.net/jitaccess/internal/apierror"
	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/catalog"
	"go.arvum.net/jitaccess/internal/metrics"
	"go.arvum.net/jitaccess/internal/policy"
	"go.arvum.net/jitaccess/internal/provision"
	"go.arvum.net/jitaccess/internal/resource"
)

// Provisioner is the slice of the provisioning layer the activator needs.
// Satisfied by *provision.Provisioner.
type Provisioner interface {
	AddProjectBinding(ctx context.Context, project resource.ProjectID, binding provision.TemporaryBinding, opts provision.BindingOptions) error
}

// Options configure the justification policy.
type Options struct {
	// JustificationPattern, when set, must match every justification.
	JustificationPattern *regexp.Regexp

	// JustificationHint tells users what a conforming justification looks
	// like. Surfaced verbatim when the pattern rejects.
	JustificationHint string
}

// Activation is a fulfilled request: its bindings are written and IAM lets
// them take effect during Window.
type Activation struct {
	Request *catalog.Request
	Window  policy.Window
}

// Activator validates and fulfills activation requests. Safe for concurrent
// use.
type Activator struct {
	catalog     *catalog.Catalog
	provisioner Provisioner
	clock       clockwork.Clock
	metrics     *metrics.Metrics
	opts        Options
}

// NewActivator builds an activator over the catalog and provisioner.
func NewActivator(cat *catalog.Catalog, provisioner Provisioner, clock clockwork.Clock, m *metrics.Metrics, opts Options) *Activator {
	return &Activator{
		catalog:     cat,
		provisioner: provisioner,
		clock:       clock,
		metrics:     m,
		opts:        opts,
	}
}

// JustificationHint describes the configured justification policy to users.
func (a *Activator) JustificationHint() string {
	if a.opts.JustificationHint != "" {
		return a.opts.JustificationHint
	}
	if a.opts.JustificationPattern != nil {
		return a.opts.JustificationPattern.String()
	}
	return ""
}

// NewJitRequest builds a self-approval request for one or more roles of one
// project. Eligibility is not checked here; Activate re-runs all guards
// before provisioning.
func (a *Activator) NewJitRequest(
	ctx context.Context,
	user auth.UserID,
	project resource.ProjectID,
	bindings []resource.RoleBinding,
	justification string,
	start time.Time,
	duration time.Duration,
) (*catalog.Request, error) {
	if len(bindings) == 0 {
		return nil, fmt.Errorf("at least one role is required: %w", apierror.ErrInvalidArgument)
	}
	if max := a.catalog.Options().MaxJitBindingsPerRequest; len(bindings) > max {
		return nil, fmt.Errorf("a request may cover at most %d roles: %w", max, apierror.ErrInvalidArgument)
	}
	if err := checkBindingsBelongTo(project, bindings); err != nil {
		return nil, err
	}
	if err := a.checkWindow(start, duration); err != nil {
		return nil, err
	}

	req := &catalog.Request{
		ID:            catalog.NewActivationID(catalog.SelfApproval),
		Type:          catalog.SelfApproval,
		User:          user,
		Project:       project,
		Bindings:      slices.Clone(bindings),
		Justification: justification,
		StartTime:     start,
		EndTime:       start.Add(duration),
	}
	if err := a.catalog.ValidateRequest(req); err != nil {
		return nil, err
	}

	a.metrics.RequestsCreated.WithLabelValues(string(req.Type)).Inc()
	return req, nil
}

// NewMpaRequest builds a peer-approval request for a single role. The
// requesting user must be eligible at creation time already, so ineligible
// users cannot solicit approvals.
func (a *Activator) NewMpaRequest(
	ctx context.Context,
	user auth.UserID,
	project resource.ProjectID,
	binding resource.RoleBinding,
	reviewers []auth.UserID,
	justification string,
	start time.Time,
	duration time.Duration,
) (*catalog.Request, error) {
	if err := checkBindingsBelongTo(project, []resource.RoleBinding{binding}); err != nil {
		return nil, err
	}
	if err := a.checkWindow(start, duration); err != nil {
		return nil, err
	}

	reviewers = normalizeReviewers(reviewers)
	if slices.Contains(reviewers, user) {
		return nil, fmt.Errorf("the requesting user cannot be a reviewer of their own request: %w", apierror.ErrInvalidArgument)
	}
	if err := a.checkJustification(justification); err != nil {
		return nil, err
	}

	req := &catalog.Request{
		ID:            catalog.NewActivationID(catalog.PeerApproval),
		Type:          catalog.PeerApproval,
		User:          user,
		Project:       project,
		Bindings:      []resource.RoleBinding{binding},
		Reviewers:     reviewers,
		Justification: justification,
		StartTime:     start,
		EndTime:       start.Add(duration),
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, req); err != nil {
		return nil, err
	}

	a.metrics.RequestsCreated.WithLabelValues(string(req.Type)).Inc()
	return req, nil
}

// Activate fulfills a self-approval request: the requesting user vouches for
// their own justification and the bindings are written immediately. Earlier
// activations of the same member and role are replaced.
func (a *Activator) Activate(ctx context.Context, req *catalog.Request) (*Activation, error) {
	ctx, span := otel.Tracer("").Start(ctx, "jitaccess.activation.Activate", trace.WithAttributes(
		attribute.String("jitaccess.activation/id", req.ID.String()),
		attribute.String("jitaccess.activation/project", req.Project.String()),
	))
	defer span.End()

	activation, err := a.activate(ctx, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return activation, err
}

func (a *Activator) activate(ctx context.Context, req *catalog.Request) (*Activation, error) {
	if req.Type != catalog.SelfApproval {
		return nil, fmt.Errorf("only self-approval requests can be activated directly: %w", apierror.ErrInvalidArgument)
	}
	if err := a.checkJustification(req.Justification); err != nil {
		return nil, err
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, req); err != nil {
		return nil, err
	}

	window := policy.NewWindow(req.StartTime, req.EndTime)
	description := fmt.Sprintf("Self-approved, justification: %s", req.Justification)
	for _, binding := range req.Bindings {
		err := a.provisioner.AddProjectBinding(ctx, req.Project, provision.TemporaryBinding{
			Member:      req.User.PrincipalIdentifier(),
			Role:        binding.Role,
			Description: description,
			Window:      window,
		}, provision.BindingOptions{ReplaceExisting: true})
		if err != nil {
			a.metrics.ActivationFailures.WithLabelValues(string(req.Type)).Inc()
			return nil, err
		}
	}

	a.metrics.ActivationsGranted.WithLabelValues(string(req.Type)).Inc()
	slog.InfoContext(ctx, "self-approved activation provisioned",
		slog.String("id", req.ID.String()),
		slog.String("user", req.User.Email),
		slog.String("project", req.Project.String()),
		slog.Int("roles", len(req.Bindings)))
	return &Activation{Request: req, Window: window}, nil
}

// Approve fulfills a peer-approval request on behalf of approver. The
// request has typically traveled through a signed token; all guards run
// against live IAM state regardless.
func (a *Activator) Approve(ctx context.Context, approver auth.UserID, req *catalog.Request) (*Activation, error) {
	ctx, span := otel.Tracer("").Start(ctx, "jitaccess.activation.Approve", trace.WithAttributes(
		attribute.String("jitaccess.activation/id", req.ID.String()),
		attribute.String("jitaccess.activation/project", req.Project.String()),
		attribute.String("jitaccess.activation/approver", approver.Email),
	))
	defer span.End()

	activation, err := a.approve(ctx, approver, req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return activation, err
}

func (a *Activator) approve(ctx context.Context, approver auth.UserID, req *catalog.Request) (*Activation, error) {
	if req.Type != catalog.PeerApproval {
		return nil, fmt.Errorf("only peer-approval requests can be approved: %w", apierror.ErrInvalidArgument)
	}
	if approver == req.User {
		return nil, fmt.Errorf("the requesting user cannot approve their own request: %w", apierror.ErrAccessDenied)
	}
	if !req.HasReviewer(approver) {
		return nil, fmt.Errorf("user %s is not listed as a reviewer of request %s: %w",
			approver, req.ID, apierror.ErrAccessDenied)
	}
	if err := a.checkJustification(req.Justification); err != nil {
		return nil, err
	}
	if err := a.catalog.VerifyUserCanRequest(ctx, req); err != nil {
		return nil, err
	}
	if err := a.catalog.VerifyUserCanApprove(ctx, approver, req); err != nil {
		return nil, err
	}

	window := policy.NewWindow(req.StartTime, req.EndTime)
	err := a.provisioner.AddProjectBinding(ctx, req.Project, provision.TemporaryBinding{
		Member:      req.User.PrincipalIdentifier(),
		Role:        req.Bindings[0].Role,
		Description: fmt.Sprintf("Approved by %s, justification: %s", approver.Email, req.Justification),
		Window:      window,
	}, provision.BindingOptions{FailIfExists: true})
	switch {
	case errors.Is(err, apierror.ErrAlreadyExists):
		// A concurrent approval won the race. The binding both approvals
		// would write is identical, so the request is fulfilled either way.
		slog.InfoContext(ctx, "request was already approved",
			slog.String("id", req.ID.String()),
			slog.String("approver", approver.Email))
	case err != nil:
		a.metrics.ActivationFailures.WithLabelValues(string(req.Type)).Inc()
		return nil, err
	default:
		a.metrics.ActivationsGranted.WithLabelValues(string(req.Type)).Inc()
		slog.InfoContext(ctx, "peer-approved activation provisioned",
			slog.String("id", req.ID.String()),
			slog.String("user", req.User.Email),
			slog.String("approver", approver.Email),
			slog.String("project", req.Project.String()),
			slog.String("role", req.Bindings[0].Role))
	}
	return &Activation{Request: req, Window: window}, nil
}

// checkJustification applies the configured justification policy. An empty
// justification never passes.
func (a *Activator) checkJustification(justification string) error {
	if strings.TrimSpace(justification) == "" {
		return fmt.Errorf("a justification is required: %w", apierror.ErrInvalidArgument)
	}
	if a.opts.JustificationPattern != nil && !a.opts.JustificationPattern.MatchString(justification) {
		return fmt.Errorf("justification does not comply with the policy (%s): %w",
			a.JustificationHint(), apierror.ErrAccessDenied)
	}
	return nil
}

func (a *Activator) checkWindow(start time.Time, duration time.Duration) error {
	if start.Before(a.clock.Now().Add(-catalog.StartTimeTolerance)) {
		return fmt.Errorf("the start time %s is in the past: %w",
			start.Format(time.RFC3339), apierror.ErrInvalidArgument)
	}
	if duration <= 0 {
		return fmt.Errorf("the activation duration must be positive: %w", apierror.ErrInvalidArgument)
	}
	return nil
}

func checkBindingsBelongTo(project resource.ProjectID, bindings []resource.RoleBinding) error {
	for _, binding := range bindings {
		if bindingProject, ok := binding.ProjectID(); !ok || bindingProject != project {
			return fmt.Errorf("role binding %s does not belong to project %s: %w",
				binding, project, apierror.ErrInvalidArgument)
		}
	}
	return nil
}

func normalizeReviewers(reviewers []auth.UserID) []auth.UserID {
	normalized := slices.Clone(reviewers)
	slices.SortFunc(normalized, func(a, b auth.UserID) int {
		return strings.Compare(a.Email, b.Email)
	})
	return slices.Compact(normalized)
}
