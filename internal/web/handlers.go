package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"go.arvum.net/jitaccess/internal/apierror"
	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/catalog"
	"go.arvum.net/jitaccess/internal/notify"
	"go.arvum.net/jitaccess/internal/resource"
	"go.arvum.net/jitaccess/pkg/version"
)

const (
	// maxJustificationLength bounds what a request may carry; the engine's
	// justification policy applies on top.
	maxJustificationLength = 100

	// defaultTimeoutCap caps the activation timeout suggested to clients at
	// one hour, regardless of the configured maximum.
	defaultTimeoutCap = 60 // minutes

	maxBodyBytes = 1 << 20
)

func (a *API) getPolicy(w http.ResponseWriter, r *http.Request) {
	user, _ := Principal(r.Context())
	opts := a.catalog.Options()

	maxTimeout := int(opts.MaxActivationDuration.Minutes())
	writeJSON(w, http.StatusOK, policyResponse{
		JustificationHint:        a.activator.JustificationHint(),
		SignedInUser:             userInfo{Email: user.Email},
		ApplicationVersion:       version.Get().GitVersion,
		DefaultActivationTimeout: min(defaultTimeoutCap, maxTimeout),
		MaxActivationTimeout:     maxTimeout,
	})
}

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := Principal(ctx)

	projects, err := a.catalog.ListProjects(ctx, user)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	ids := make([]string, len(projects))
	for i, project := range projects {
		ids[i] = project.String()
	}
	writeJSON(w, http.StatusOK, projectsResponse{Projects: ids})
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := Principal(ctx)
	project := resource.ProjectID(chi.URLParam(r, "projectId"))

	set, err := a.catalog.ListPrivileges(ctx, user, project)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	roles := make([]projectRole, len(set.Privileges))
	for i, privilege := range set.Privileges {
		roles[i] = projectRole{
			RoleBinding: roleBindingInfo{
				FullResourceName: privilege.Binding.Resource,
				Role:             privilege.Binding.Role,
			},
			ActivationType: string(privilege.Type),
			Status:         string(privilege.Status),
		}
	}
	writeJSON(w, http.StatusOK, projectRolesResponse{
		Warnings: set.Warnings,
		Roles:    roles,
	})
}

func (a *API) listPeers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := Principal(ctx)
	project := resource.ProjectID(chi.URLParam(r, "projectId"))

	role := r.URL.Query().Get("role")
	if strings.TrimSpace(role) == "" {
		writeError(ctx, w, fmt.Errorf("a role is required: %w", apierror.ErrInvalidArgument))
		return
	}

	peers, err := a.catalog.ListReviewers(ctx, user, resource.NewRoleBinding(project, role))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, peersResponse{Peers: userInfos(peers)})
}

func (a *API) selfApproveActivation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := Principal(ctx)
	project := resource.ProjectID(chi.URLParam(r, "projectId"))

	var body selfActivationRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	if err := checkJustificationLength(body.Justification); err != nil {
		writeError(ctx, w, err)
		return
	}

	bindings := make([]resource.RoleBinding, len(body.Roles))
	for i, role := range body.Roles {
		bindings[i] = resource.NewRoleBinding(project, role)
	}

	req, err := a.activator.NewJitRequest(ctx, user, project, bindings,
		body.Justification,
		a.clock.Now().Truncate(time.Second),
		time.Duration(body.ActivationTimeout)*time.Minute)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	activated, err := a.activator.Activate(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	a.notify(ctx, notify.NewActivationSelfApproved(activated.Request, baseURL(r)))

	writeJSON(w, http.StatusOK, newActivationStatusResponse(user, activated.Request, catalog.StatusActive))
}

func (a *API) requestActivation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := Principal(ctx)
	project := resource.ProjectID(chi.URLParam(r, "projectId"))

	// Peer approval hinges on reviewers learning about the request.
	if !a.dispatcher.CanNotify() {
		writeError(ctx, w, errors.New(
			"the multi-party approval feature is not available because the server-side configuration is incomplete"))
		return
	}

	var body activationRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	if strings.TrimSpace(body.Role) == "" {
		writeError(ctx, w, fmt.Errorf("a role is required: %w", apierror.ErrInvalidArgument))
		return
	}
	if err := checkJustificationLength(body.Justification); err != nil {
		writeError(ctx, w, err)
		return
	}

	reviewers := make([]auth.UserID, len(body.Peers))
	for i, peer := range body.Peers {
		reviewers[i] = auth.UserID{Email: peer}
	}

	req, err := a.activator.NewMpaRequest(ctx, user, project,
		resource.NewRoleBinding(project, body.Role), reviewers,
		body.Justification,
		a.clock.Now().Truncate(time.Second),
		time.Duration(body.ActivationTimeout)*time.Minute)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	signed, err := a.tokens.Sign(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	base := baseURL(r)
	actionURL := base + "/?activation=" + ObfuscateToken(signed.Token)
	if err := a.dispatcher.Dispatch(ctx, notify.NewRequestActivation(req, signed.ExpiryTime, actionURL, base)); err != nil {
		writeError(ctx, w, fmt.Errorf("failed to notify the reviewers: %w", err))
		return
	}

	slog.InfoContext(ctx, "activation requested",
		slog.String("id", req.ID.String()),
		slog.String("user", user.Email),
		slog.String("project", project.String()),
		slog.String("role", body.Role))

	writeJSON(w, http.StatusOK, newActivationStatusResponse(user, req, catalog.StatusActivationPending))
}

func (a *API) getActivationRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := Principal(ctx)

	req, err := a.verifyActivationParam(ctx, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	if user != req.User && !req.HasReviewer(user) {
		writeError(ctx, w, fmt.Errorf(
			"the calling user is not authorized to access this approval request: %w", apierror.ErrAccessDenied))
		return
	}
	writeJSON(w, http.StatusOK, newActivationStatusResponse(user, req, catalog.StatusActivationPending))
}

func (a *API) approveActivationRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := Principal(ctx)

	req, err := a.verifyActivationParam(ctx, r)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	activated, err := a.activator.Approve(ctx, user, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	a.notify(ctx, notify.NewActivationApproved(activated.Request, user, baseURL(r)))

	writeJSON(w, http.StatusOK, newActivationStatusResponse(user, activated.Request, catalog.StatusActive))
}

// verifyActivationParam deobfuscates and verifies the activation token of the
// request's query string.
func (a *API) verifyActivationParam(ctx context.Context, r *http.Request) (*catalog.Request, error) {
	obfuscated := r.URL.Query().Get("activation")
	if strings.TrimSpace(obfuscated) == "" {
		return nil, fmt.Errorf("an activation token is required: %w", apierror.ErrInvalidArgument)
	}
	return a.tokens.Verify(ctx, DeobfuscateToken(obfuscated))
}

// notify dispatches n and logs failures. A notification problem never undoes
// the activation it reports on.
func (a *API) notify(ctx context.Context, n *notify.Notification) {
	if err := a.dispatcher.Dispatch(ctx, n); err != nil {
		slog.ErrorContext(ctx, "failed to dispatch notification",
			slog.String("type", string(n.Type)),
			slog.String("error", err.Error()))
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, into any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return fmt.Errorf("malformed request body: %w", apierror.ErrInvalidArgument)
	}
	return nil
}

func checkJustificationLength(justification string) error {
	if len(justification) > maxJustificationLength {
		return fmt.Errorf("the justification must not exceed %d characters: %w",
			maxJustificationLength, apierror.ErrInvalidArgument)
	}
	return nil
}

// baseURL reconstructs the externally visible origin of the request. The
// proxy in front terminates TLS, so the forwarded protocol wins over the
// local connection state.
func baseURL(r *http.Request) string {
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host
}
