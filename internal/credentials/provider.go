// Package credentials obtains short-lived bearer tokens for the Google Wallet
// and IAM APIs, either from a service-account key file or from the identity
// the hosting environment provides (Cloud Run metadata server, gcloud ADC).
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"

	"github.com/orvull/sparkcards/internal/config"
	"github.com/orvull/sparkcards/internal/log"
	"github.com/orvull/sparkcards/internal/models"
)

// OAuth scopes used by this service.
const (
	ScopeWalletIssuer  = "https://www.googleapis.com/auth/wallet_object.issuer"
	ScopeCloudPlatform = "https://www.googleapis.com/auth/cloud-platform"
)

// ServiceAccount is the signing material of a service-account key file.
type ServiceAccount struct {
	Email        string
	PrivateKey   []byte // PEM
	PrivateKeyID string
}

type sourceFactory func(ctx context.Context, scope string) (oauth2.TokenSource, error)

// Provider hands out cached token sources per scope. Each source refreshes
// synchronously once its token has expired.
type Provider struct {
	strategy string
	account  *ServiceAccount
	factory  sourceFactory

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// New builds a provider for the configured strategy. With the file strategy
// the key file is read and parsed up front so a bad file fails at startup.
func New(ctx context.Context, cfg config.Config) (*Provider, error) {
	switch cfg.CredentialStrategy {
	case config.StrategyFile:
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, &models.CredentialError{Err: fmt.Errorf("read key file: %w", err)}
		}
		return FromJSON(data)
	case config.StrategyAmbient:
		return Ambient(), nil
	default:
		return nil, &models.CredentialError{Err: fmt.Errorf("unknown strategy %q", cfg.CredentialStrategy)}
	}
}

// FromJSON builds a provider from the contents of a service-account key file.
func FromJSON(data []byte) (*Provider, error) {
	cfg, err := google.JWTConfigFromJSON(data)
	if err != nil {
		return nil, &models.CredentialError{Err: fmt.Errorf("parse key file: %w", err)}
	}
	// jwt.Config carries its scopes, so each scope gets its own config
	p := newProvider(config.StrategyFile, func(ctx context.Context, scope string) (oauth2.TokenSource, error) {
		c, err := google.JWTConfigFromJSON(data, scope)
		if err != nil {
			return nil, err
		}
		return c.TokenSource(context.WithoutCancel(ctx)), nil
	})
	p.account = accountFromJWTConfig(cfg)
	return p, nil
}

// Ambient builds a provider backed by Application Default Credentials.
// No key material is ever read by this process when running on Cloud Run.
func Ambient() *Provider {
	return newProvider(config.StrategyAmbient, func(ctx context.Context, scope string) (oauth2.TokenSource, error) {
		creds, err := google.FindDefaultCredentials(context.WithoutCancel(ctx), scope)
		if err != nil {
			return nil, err
		}
		return creds.TokenSource, nil
	})
}

// Static returns a provider that always yields the given token source.
// Used by tests and the CLI's --token flag.
func Static(ts oauth2.TokenSource) *Provider {
	return newProvider("static", func(context.Context, string) (oauth2.TokenSource, error) {
		return ts, nil
	})
}

func newProvider(strategy string, factory sourceFactory) *Provider {
	return &Provider{
		strategy: strategy,
		factory:  factory,
		sources:  make(map[string]oauth2.TokenSource),
	}
}

func accountFromJWTConfig(c *jwt.Config) *ServiceAccount {
	return &ServiceAccount{
		Email:        c.Email,
		PrivateKey:   c.PrivateKey,
		PrivateKeyID: c.PrivateKeyID,
	}
}

// Strategy returns "file", "ambient" or "static".
func (p *Provider) Strategy() string { return p.strategy }

// ServiceAccount returns the key file material, or nil when none was loaded.
func (p *Provider) ServiceAccount() *ServiceAccount { return p.account }

// TokenSource returns the cached token source for scope, creating it on first use.
func (p *Provider) TokenSource(ctx context.Context, scope string) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ts, ok := p.sources[scope]; ok {
		return ts, nil
	}
	ts, err := p.factory(ctx, scope)
	if err != nil {
		return nil, &models.CredentialError{Err: err}
	}
	ts = oauth2.ReuseTokenSource(nil, ts)
	p.sources[scope] = ts
	log.Module("credentials").WithField("strategy", p.strategy).Debugf("Token source ready for %s", scope)
	return ts, nil
}

// Token returns a bearer token for scope and the time it stops being valid.
func (p *Provider) Token(ctx context.Context, scope string) (string, time.Time, error) {
	ts, err := p.TokenSource(ctx, scope)
	if err != nil {
		return "", time.Time{}, err
	}
	tok, err := ts.Token()
	if err != nil {
		var credErr *models.CredentialError
		if errors.As(err, &credErr) {
			return "", time.Time{}, err
		}
		return "", time.Time{}, &models.CredentialError{Err: err}
	}
	if tok.AccessToken == "" {
		return "", time.Time{}, &models.CredentialError{Err: errors.New("empty access token")}
	}
	return tok.AccessToken, tok.Expiry, nil
}

// Source adapts the provider to a single-scope oauth2.TokenSource whose errors
// are CredentialErrors.
func (p *Provider) Source(ctx context.Context, scope string) oauth2.TokenSource {
	return scopedSource{ctx: context.WithoutCancel(ctx), p: p, scope: scope}
}

type scopedSource struct {
	ctx   context.Context
	p     *Provider
	scope string
}

func (s scopedSource) Token() (*oauth2.Token, error) {
	tok, expiry, err := s.p.Token(s.ctx, s.scope)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer", Expiry: expiry}, nil
}

// HTTPClient returns a client that sends a bearer token for scope on every
// request and gives up after timeout.
func (p *Provider) HTTPClient(ctx context.Context, scope string, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: p.Source(ctx, scope),
			Base:   otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}
