package mock

import (
	"context"
	"log/slog"
	"sync"

	"go.arvum.net/jitaccess/internal/providers/email"
)

// Client is a mocked email client. It records every message so tests can
// assert on what would have been sent.
type Client struct {
	mu   sync.Mutex
	sent []email.SendEmailParams

	// Err, when set, is returned by every SendEmail call.
	Err error
}

// NewClient creates a new mock email client.
func NewClient() *Client {
	return &Client{}
}

// SendEmail logs and records the email sending attempt.
func (c *Client) SendEmail(ctx context.Context, params *email.SendEmailParams) error {
	slog.InfoContext(ctx, "Mock SendEmail", "to", params.To, "subject", params.Subject, "cc", params.Cc)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.sent = append(c.sent, *params)
	return nil
}

// Sent returns the messages recorded so far.
func (c *Client) Sent() []email.SendEmailParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]email.SendEmailParams(nil), c.sent...)
}

// Ensure Client implements the email.Provider interface.
var _ email.Provider = (*Client)(nil)
