// Package web is the REST facade of the engine. An upstream identity-aware
// proxy authenticates every caller; the facade reads the asserted principal,
// translates JSON requests into engine calls, and maps error kinds onto HTTP
// statuses. It keeps no state of its own.
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"go.arvum.net/jitaccess/internal/activation"
	"go.arvum.net/jitaccess/internal/catalog"
	"go.arvum.net/jitaccess/internal/notify"
	"go.arvum.net/jitaccess/internal/token"
)

// API serves the engine's REST surface.
type API struct {
	catalog    *catalog.Catalog
	activator  *activation.Activator
	tokens     *token.Service
	dispatcher *notify.Dispatcher
	clock      clockwork.Clock
}

// NewAPI builds the REST facade over the engine components.
func NewAPI(
	cat *catalog.Catalog,
	activator *activation.Activator,
	tokens *token.Service,
	dispatcher *notify.Dispatcher,
	clock clockwork.Clock,
) *API {
	return &API{
		catalog:    cat,
		activator:  activator,
		tokens:     tokens,
		dispatcher: dispatcher,
		clock:      clock,
	}
}

// Handler returns the routed handler, middleware included.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(Recover, LogRequests, RequirePrincipal)

	r.Route("/api", func(r chi.Router) {
		r.Get("/policy", a.getPolicy)
		r.Get("/projects", a.listProjects)
		r.Get("/projects/{projectId}/roles", a.listRoles)
		r.Get("/projects/{projectId}/peers", a.listPeers)
		r.Post("/projects/{projectId}/roles/self-activate", a.selfApproveActivation)
		r.Post("/projects/{projectId}/roles/request", a.requestActivation)
		r.Get("/activation-request", a.getActivationRequest)
		r.Post("/activation-request", a.approveActivationRequest)
	})
	return r
}
