// Package token turns peer-approval requests into signed activation tokens
// and verifies tokens presented back by reviewers. Tokens are JWTs signed by
// a service account through the IAM Credentials API, so the signing key never
// leaves Google-managed storage; verification runs against the service
// account's published JWKS.
package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"go.arvum.net/jitaccess/internal/apierror"
	"go.arvum.net/jitaccess/internal/auth"
	"go.arvum.net/jitaccess/internal/catalog"
	"go.arvum.net/jitaccess/internal/metrics"
	"go.arvum.net/jitaccess/internal/resource"
)

const (
	// DefaultValidity bounds how long a token stays approvable when the
	// configuration does not say otherwise.
	DefaultValidity = time.Hour

	// verificationSkew absorbs clock drift between the signing service and
	// this process.
	verificationSkew = 10 * time.Second
)

// Signer signs a JWT payload with a service account's Google-managed key.
type Signer interface {
	SignJWT(ctx context.Context, serviceAccount, payload string) (string, error)
}

// Options configure the token service.
type Options struct {
	// ServiceAccount is the email of the signing service account. It doubles
	// as token issuer and audience, which pins tokens to one deployment.
	ServiceAccount string

	// Validity is the lifetime of signed tokens; a pending peer-approval
	// request lapses when its token expires. Defaults to DefaultValidity.
	Validity time.Duration
}

// SignedToken is a signed activation token plus its validity bounds.
type SignedToken struct {
	Token      string
	IssueTime  time.Time
	ExpiryTime time.Time
}

// Service signs and verifies activation tokens.
type Service struct {
	signer  Signer
	cache   *jwk.Cache
	jwksURL string
	clock   clockwork.Clock
	metrics *metrics.Metrics
	opts    Options
}

// NewService builds a token service verifying against the JWKS at jwksURL.
// The key set is cached and refreshed in the background for the life of ctx.
func NewService(ctx context.Context, signer Signer, jwksURL string, clock clockwork.Clock, m *metrics.Metrics, opts Options) (*Service, error) {
	if opts.ServiceAccount == "" {
		return nil, fmt.Errorf("token service requires a signing service account: %w", apierror.ErrInvalidArgument)
	}
	if opts.Validity <= 0 {
		opts.Validity = DefaultValidity
	}

	cache := jwk.NewCache(ctx, jwk.WithRefreshWindow(time.Hour))
	if err := cache.Register(jwksURL); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL %q: %w", jwksURL, err)
	}

	return &Service{
		signer:  signer,
		cache:   cache,
		jwksURL: jwksURL,
		clock:   clock,
		metrics: m,
		opts:    opts,
	}, nil
}

// Validity is the lifetime of tokens the service signs.
func (s *Service) Validity() time.Duration {
	return s.opts.Validity
}

// payload is the claim set of an activation token. Times are epoch seconds.
type payload struct {
	JWTID         string   `json:"jti"`
	Issuer        string   `json:"iss"`
	Audience      string   `json:"aud"`
	IssuedAt      int64    `json:"iat"`
	Expiry        int64    `json:"exp"`
	Type          string   `json:"type"`
	Beneficiary   string   `json:"beneficiary"`
	Reviewers     []string `json:"reviewers"`
	Resource      string   `json:"resource"`
	Role          string   `json:"role"`
	Justification string   `json:"justification"`
	Start         int64    `json:"start"`
	End           int64    `json:"end"`
}

// Sign issues an activation token for a peer-approval request. The token
// embeds the full request so approval needs no server-side state.
func (s *Service) Sign(ctx context.Context, req *catalog.Request) (*SignedToken, error) {
	if req.Type != catalog.PeerApproval {
		return nil, fmt.Errorf("only peer-approval requests are signed into tokens: %w", apierror.ErrInvalidArgument)
	}
	if len(req.Bindings) != 1 {
		return nil, fmt.Errorf("a peer-approval request covers exactly one role: %w", apierror.ErrInvalidArgument)
	}
	if req.StartTime.Before(s.clock.Now().Add(-catalog.StartTimeTolerance)) {
		return nil, fmt.Errorf("request start time %s is in the past: %w",
			req.StartTime.Format(time.RFC3339), apierror.ErrInvalidArgument)
	}

	issueTime := s.clock.Now()
	expiryTime := issueTime.Add(s.opts.Validity)

	reviewers := make([]string, len(req.Reviewers))
	for i, reviewer := range req.Reviewers {
		reviewers[i] = reviewer.Email
	}

	body, err := json.Marshal(&payload{
		JWTID:         req.ID.String(),
		Issuer:        s.opts.ServiceAccount,
		Audience:      s.opts.ServiceAccount,
		IssuedAt:      issueTime.Unix(),
		Expiry:        expiryTime.Unix(),
		Type:          string(req.Type),
		Beneficiary:   req.User.Email,
		Reviewers:     reviewers,
		Resource:      req.Bindings[0].Resource,
		Role:          req.Bindings[0].Role,
		Justification: req.Justification,
		Start:         req.StartTime.Unix(),
		End:           req.EndTime.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode token payload: %w", err)
	}

	signed, err := s.signer.SignJWT(ctx, s.opts.ServiceAccount, string(body))
	if err != nil {
		return nil, fmt.Errorf("failed to sign activation token: %w", err)
	}
	s.metrics.TokensSigned.Inc()

	return &SignedToken{
		Token:      signed,
		IssueTime:  issueTime,
		ExpiryTime: expiryTime,
	}, nil
}

// Verify checks a presented token's signature, issuer, audience, and expiry,
// and reconstructs the peer-approval request it was signed for. Any
// verification failure reports ErrTokenInvalid; only a JWKS fetch failure is
// transient.
func (s *Service) Verify(ctx context.Context, token string) (*catalog.Request, error) {
	req, err := s.verify(ctx, token)
	if errors.Is(err, apierror.ErrTokenInvalid) {
		s.metrics.TokenVerificationFailures.Inc()
	}
	return req, err
}

func (s *Service) verify(ctx context.Context, token string) (*catalog.Request, error) {
	keySet, err := s.cache.Get(ctx, s.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %q: %w: %w", s.jwksURL, err, apierror.ErrTransient)
	}

	// The key set pins the key, not the algorithm; reject anything but the
	// RS256 the signing service uses before looking at claims.
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, fmt.Errorf("malformed token: %w", apierror.ErrTokenInvalid)
	}
	for _, sig := range msg.Signatures() {
		if sig.ProtectedHeaders().Algorithm() != jwa.RS256 {
			return nil, fmt.Errorf("token signed with %s instead of %s: %w",
				sig.ProtectedHeaders().Algorithm(), jwa.RS256, apierror.ErrTokenInvalid)
		}
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKeySet(keySet),
		jwt.WithIssuer(s.opts.ServiceAccount),
		jwt.WithAudience(s.opts.ServiceAccount),
		jwt.WithClock(s.clock),
		jwt.WithAcceptableSkew(verificationSkew),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", apierror.ErrTokenInvalid)
	}

	return requestFromClaims(parsed)
}

func requestFromClaims(parsed jwt.Token) (*catalog.Request, error) {
	claims := parsed.PrivateClaims()

	typ, ok := claimString(claims, "type")
	if !ok || catalog.ActivationType(typ) != catalog.PeerApproval {
		return nil, fmt.Errorf("token is not a peer-approval token: %w", apierror.ErrTokenInvalid)
	}

	id := catalog.ActivationID(parsed.JwtID())
	if !id.IsPeerApproval() {
		return nil, fmt.Errorf("token id %q is not a peer-approval id: %w", id, apierror.ErrTokenInvalid)
	}

	beneficiary, ok := claimString(claims, "beneficiary")
	if !ok {
		return nil, missingClaim("beneficiary")
	}
	resourceName, ok := claimString(claims, "resource")
	if !ok {
		return nil, missingClaim("resource")
	}
	role, ok := claimString(claims, "role")
	if !ok {
		return nil, missingClaim("role")
	}
	justification, ok := claimString(claims, "justification")
	if !ok {
		return nil, missingClaim("justification")
	}
	start, ok := claimEpoch(claims, "start")
	if !ok {
		return nil, missingClaim("start")
	}
	end, ok := claimEpoch(claims, "end")
	if !ok {
		return nil, missingClaim("end")
	}
	reviewers, ok := claimUsers(claims, "reviewers")
	if !ok || len(reviewers) == 0 {
		return nil, missingClaim("reviewers")
	}

	project, ok := resource.ParseProjectFullResourceName(resourceName)
	if !ok {
		return nil, fmt.Errorf("token resource %q is not a project: %w", resourceName, apierror.ErrTokenInvalid)
	}

	return &catalog.Request{
		ID:            id,
		Type:          catalog.PeerApproval,
		User:          auth.UserID{Email: beneficiary},
		Project:       project,
		Bindings:      []resource.RoleBinding{{Resource: resourceName, Role: role}},
		Reviewers:     reviewers,
		Justification: justification,
		StartTime:     start,
		EndTime:       end,
	}, nil
}

func missingClaim(name string) error {
	return fmt.Errorf("token lacks the %s claim: %w", name, apierror.ErrTokenInvalid)
}

func claimString(claims map[string]any, key string) (string, bool) {
	value, ok := claims[key].(string)
	return value, ok && value != ""
}

// claimEpoch reads an epoch-seconds claim. jwt.Parse hands numeric claims
// over as float64.
func claimEpoch(claims map[string]any, key string) (time.Time, bool) {
	switch value := claims[key].(type) {
	case float64:
		return time.Unix(int64(value), 0).UTC(), true
	case int64:
		return time.Unix(value, 0).UTC(), true
	case json.Number:
		n, err := value.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return time.Unix(n, 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func claimUsers(claims map[string]any, key string) ([]auth.UserID, bool) {
	values, ok := claims[key].([]any)
	if !ok {
		return nil, false
	}
	users := make([]auth.UserID, 0, len(values))
	for _, value := range values {
		email, ok := value.(string)
		if !ok || email == "" {
			return nil, false
		}
		users = append(users, auth.UserID{Email: email})
	}
	return users, true
}
