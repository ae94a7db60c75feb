package notify

import (
	"context"
	"log/slog"

	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/providers/email"
)

// Transport delivers notifications over one channel.
type Transport interface {
	// CanSend reports whether the transport is configured to deliver.
	// Peer approval requires at least one transport that can.
	CanSend() bool

	Send(ctx context.Context, n *Notification) error
}

// Dispatcher fans notifications out to the registered transports. A failing
// transport is logged and does not stop the others; the first failure is
// reported after every transport ran. Notifications no transport could
// deliver are written to the server log instead.
type Dispatcher struct {
	transports []Transport
}

// NewDispatcher builds a dispatcher over the given transports.
func NewDispatcher(transports ...Transport) *Dispatcher {
	return &Dispatcher{transports: transports}
}

// CanNotify reports whether any transport can deliver.
func (d *Dispatcher) CanNotify() bool {
	for _, t := range d.transports {
		if t.CanSend() {
			return true
		}
	}
	return false
}

// Dispatch delivers the notification once per functional transport.
func (d *Dispatcher) Dispatch(ctx context.Context, n *Notification) error {
	var firstErr error
	delivered := false
	for _, t := range d.transports {
		if !t.CanSend() {
			continue
		}
		if err := t.Send(ctx, n); err != nil {
			slog.ErrorContext(ctx, "notification transport failed",
				slog.String("type", string(n.Type)),
				slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		delivered = true
	}

	if !delivered && firstErr == nil {
		// Delivery of last resort: keep a structured record in the log.
		slog.InfoContext(ctx, "notification",
			slog.String("type", string(n.Type)),
			slog.String("to", joinUsers(n.To)),
			slog.String("cc", joinUsers(n.CC)),
			slog.String("subject", n.Subject),
			slog.Any("properties", n.Properties))
	}
	return firstErr
}

// EmailTransport delivers notifications as HTML mail through an email
// provider.
type EmailTransport struct {
	provider email.Provider
	template *Template
}

// NewEmailTransport builds a transport rendering notifications with template
// and sending them through provider. A nil provider yields a transport that
// reports itself non-functional.
func NewEmailTransport(provider email.Provider, template *Template) *EmailTransport {
	return &EmailTransport{
		provider: provider,
		template: template,
	}
}

func (t *EmailTransport) CanSend() bool {
	return t.provider != nil
}

func (t *EmailTransport) Send(ctx context.Context, n *Notification) error {
	subject := n.Subject
	if n.Reply {
		// Keep approvals on the thread the request started.
		subject = "Re: " + subject
	}

	return t.provider.SendEmail(ctx, &email.SendEmailParams{
		To:       emailAddresses(n.To),
		Cc:       emailAddresses(n.CC),
		Subject:  subject,
		HTMLBody: t.template.Render(n),
	})
}

func emailAddresses(users []auth.UserID) []string {
	addresses := make([]string, len(users))
	for i, user := range users {
		addresses[i] = user.Email
	}
	return addresses
}
