package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/catalog"
	"go.arvum.net/jitaccess/internal/providers/email/mock"
	"go.arvum.net/jitaccess/internal/resource"
)

var (
	alice = auth.UserID{Email: "alice@example.com"}
	bob   = auth.UserID{Email: "bob@example.com"}
	carol = auth.UserID{Email: "carol@example.com"}
)

func mpaRequest() *catalog.Request {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return &catalog.Request{
		ID:            catalog.NewActivationID(catalog.PeerApproval),
		Type:          catalog.PeerApproval,
		User:          alice,
		Project:       "project-1",
		Bindings:      []resource.RoleBinding{resource.NewRoleBinding("project-1", "roles/viewer")},
		Reviewers:     []auth.UserID{bob, carol},
		Justification: "b/12345",
		StartTime:     start,
		EndTime:       start.Add(15 * time.Minute),
	}
}

func TestNewRequestActivation(t *testing.T) {
	req := mpaRequest()
	expiry := req.StartTime.Add(time.Hour)

	n := NewRequestActivation(req, expiry, "https://jit.example.com/?activation=x", "https://jit.example.com/")

	assert.Equal(t, TypeRequestActivation, n.Type)
	assert.Equal(t, []auth.UserID{bob, carol}, n.To)
	assert.Equal(t, []auth.UserID{alice}, n.CC)
	assert.False(t, n.Reply)
	assert.Equal(t, "alice@example.com requests access to project project-1", n.Subject)
	assert.Equal(t, "bob@example.com, carol@example.com", n.Properties["REVIEWERS"])
	assert.Equal(t, "roles/viewer", n.Properties["ROLE"])
	assert.Equal(t, "2024-03-01T09:30:00Z", n.Properties["START_TIME"])
	assert.Equal(t, "2024-03-01T09:45:00Z", n.Properties["END_TIME"])
	assert.Equal(t, "2024-03-01T10:30:00Z", n.Properties["REQUEST_EXPIRY_TIME"])
	assert.Equal(t, "https://jit.example.com/?activation=x", n.Properties["ACTION_URL"])
}

func TestNewActivationApproved(t *testing.T) {
	req := mpaRequest()

	n := NewActivationApproved(req, bob, "https://jit.example.com/")

	assert.Equal(t, TypeActivationApproved, n.Type)
	assert.Equal(t, []auth.UserID{alice}, n.To)
	assert.Equal(t, []auth.UserID{bob, carol}, n.CC)
	assert.True(t, n.Reply)
	assert.Equal(t, "bob@example.com", n.Properties["APPROVER"])
}

func TestNewActivationSelfApproved(t *testing.T) {
	start := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	req := &catalog.Request{
		ID:      catalog.NewActivationID(catalog.SelfApproval),
		Type:    catalog.SelfApproval,
		User:    alice,
		Project: "project-1",
		Bindings: []resource.RoleBinding{
			resource.NewRoleBinding("project-1", "roles/viewer"),
			resource.NewRoleBinding("project-1", "roles/logging.viewer"),
		},
		Justification: "b/12345",
		StartTime:     start,
		EndTime:       start.Add(10 * time.Minute),
	}

	n := NewActivationSelfApproved(req, "https://jit.example.com/")

	assert.Equal(t, TypeActivationSelfApproved, n.Type)
	assert.Equal(t, []auth.UserID{alice}, n.To)
	assert.Empty(t, n.CC)
	assert.Equal(t, "Activated roles 'roles/viewer', 'roles/logging.viewer' on 'project-1'", n.Subject)
	assert.Equal(t, "'roles/viewer', 'roles/logging.viewer'", n.Properties["ROLES"])
	assert.Equal(t, "roles/viewer", n.Properties["ROLE"])
}

func TestTemplateRenderEscapesValues(t *testing.T) {
	tmpl := &Template{body: "<p>{{SUBJECT}}: {{JUSTIFICATION}}</p>"}

	body := tmpl.Render(&Notification{
		Subject: "access <request>",
		Properties: map[string]string{
			"JUSTIFICATION": `fixing "bug" & <its> friends`,
		},
	})

	assert.Equal(t, "<p>access &lt;request&gt;: fixing &#34;bug&#34; &amp; &lt;its&gt; friends</p>", body)
}

func TestTemplateRenderLeavesUnknownPlaceholders(t *testing.T) {
	tmpl := &Template{body: "{{ROLE}} {{SOMETHING_ELSE}}"}

	body := tmpl.Render(&Notification{
		Properties: map[string]string{"ROLE": "roles/viewer"},
	})

	assert.Equal(t, "roles/viewer {{SOMETHING_ELSE}}", body)
}

func TestDefaultTemplateUsesKnownPropertiesOnly(t *testing.T) {
	assert.Empty(t, DefaultTemplate().MissingProperties(PropertyKeys()))
}

func TestTemplatePlaceholders(t *testing.T) {
	tmpl := &Template{body: "{{B}} {{A}} {{B}} {{not_a_placeholder}}"}
	assert.Equal(t, []string{"A", "B"}, tmpl.Placeholders())
}

func TestTemplateMissingProperties(t *testing.T) {
	tmpl := &Template{body: "{{ROLE}} {{CUSTOM_FIELD}}"}
	assert.Equal(t, []string{"CUSTOM_FIELD"}, tmpl.MissingProperties(PropertyKeys()))
}

func TestEmailTransportSendsRenderedMail(t *testing.T) {
	provider := mock.NewClient()
	transport := NewEmailTransport(provider, DefaultTemplate())
	require.True(t, transport.CanSend())

	n := NewActivationApproved(mpaRequest(), bob, "https://jit.example.com/")
	require.NoError(t, transport.Send(context.Background(), n))

	sent := provider.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"alice@example.com"}, sent[0].To)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, sent[0].Cc)
	assert.Equal(t, "Re: alice@example.com requests access to project project-1", sent[0].Subject)
	assert.Contains(t, sent[0].HTMLBody, "roles/viewer")
	assert.NotContains(t, sent[0].HTMLBody, "{{")
}

func TestEmailTransportWithoutProviderCannotSend(t *testing.T) {
	assert.False(t, NewEmailTransport(nil, DefaultTemplate()).CanSend())
}

type failingTransport struct{ err error }

func (t *failingTransport) CanSend() bool                            { return true }
func (t *failingTransport) Send(context.Context, *Notification) error { return t.err }

func TestDispatchIsolatesTransportFailures(t *testing.T) {
	provider := mock.NewClient()
	wantErr := errors.New("smtp down")
	d := NewDispatcher(
		&failingTransport{err: wantErr},
		NewEmailTransport(provider, DefaultTemplate()),
	)

	err := d.Dispatch(context.Background(), NewActivationSelfApproved(mpaRequest(), ""))

	// The failure is reported, but the second transport still delivered.
	assert.ErrorIs(t, err, wantErr)
	assert.Len(t, provider.Sent(), 1)
}

func TestCanNotify(t *testing.T) {
	assert.False(t, NewDispatcher().CanNotify())
	assert.False(t, NewDispatcher(NewEmailTransport(nil, DefaultTemplate())).CanNotify())
	assert.True(t, NewDispatcher(NewEmailTransport(mock.NewClient(), DefaultTemplate())).CanNotify())
}
