// Package credentials adapts the IAM Credentials API for signing activation
// tokens. Signing happens remotely with the service account's system-managed
// key; no private key material ever reaches this process.
package credentials

import (
	"context"
	"fmt"

	credapi "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"google.golang.org/api/option"

	"go.arvum.net/jitaccess/internal/apierror"
)

// Client signs JWTs through the IAM Credentials API.
type Client struct {
	client *credapi.IamCredentialsClient
}

// NewClient builds an IAM credentials client.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	client, err := credapi.NewIamCredentialsClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating IAM credentials client: %w", err)
	}
	return &Client{client: client}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// SignJWT signs the JSON claim set with the service account's key. The
// caller needs roles/iam.serviceAccountTokenCreator on the account.
func (c *Client) SignJWT(ctx context.Context, serviceAccount, payload string) (string, error) {
	resp, err := c.client.SignJwt(ctx, &credentialspb.SignJwtRequest{
		Name:    "projects/-/serviceAccounts/" + serviceAccount,
		Payload: payload,
	})
	if err != nil {
		return "", fmt.Errorf("signing JWT as %s: %w", serviceAccount, apierror.FromGRPC(err))
	}
	return resp.GetSignedJwt(), nil
}

// JWKSURL returns the well-known URL publishing the JWKs of the service
// account's system-managed key pairs.
func JWKSURL(serviceAccount string) string {
	return "https://www.googleapis.com/service_accounts/v1/metadata/jwk/" + serviceAccount
}
