package auth

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"

	"github.com/orvull/sparkcards/internal/models"
)

const (
	SaveAudience = "google"
	SaveType     = "savetowallet"

	DefaultSaveURLBase = "https://pay.google.com/gp/v/save"
)

// SaveClaims are the claims of a "save to Google Wallet" token.
type SaveClaims struct {
	Issuer   string                        `json:"iss"`
	Audience string                        `json:"aud"`
	Type     string                        `json:"typ"`
	IssuedAt int64                         `json:"iat"`
	Expiry   int64                         `json:"exp,omitempty"`
	Origins  []string                      `json:"origins"`
	Payload  map[string][]models.ObjectRef `json:"payload"`
}

// NewSaveClaims offers refs for saving. A positive ttl sets exp.
func NewSaveClaims(issuer string, kind models.ObjectKind, refs []models.ObjectRef, now time.Time, ttl time.Duration) SaveClaims {
	c := SaveClaims{
		Issuer:   issuer,
		Audience: SaveAudience,
		Type:     SaveType,
		IssuedAt: now.Unix(),
		Origins:  []string{},
		Payload:  map[string][]models.ObjectRef{kind.PayloadKey(): refs},
	}
	if ttl > 0 {
		c.Expiry = now.Add(ttl).Unix()
	}
	return c
}

// GetExpirationTime and the getters below make SaveClaims a jwt.Claims.
func (c SaveClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	if c.Expiry == 0 {
		return nil, nil
	}
	return jwt.NewNumericDate(time.Unix(c.Expiry, 0)), nil
}

func (c SaveClaims) GetIssuedAt() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.IssuedAt, 0)), nil
}

func (c SaveClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }

func (c SaveClaims) GetIssuer() (string, error) { return c.Issuer, nil }

func (c SaveClaims) GetSubject() (string, error) { return "", nil }

func (c SaveClaims) GetAudience() (jwt.ClaimStrings, error) {
	return jwt.ClaimStrings{c.Audience}, nil
}

// Signer turns claims into a compact JWS.
type Signer interface {
	Sign(ctx context.Context, claims SaveClaims) (string, error)
	// Email is the identity that appears as iss.
	Email() string
}

// LocalSigner signs with the RSA key of a service-account key file.
type LocalSigner struct {
	email string
	keyID string
	key   *rsa.PrivateKey
}

// NewLocalSigner parses a PEM private key (PKCS#1 or PKCS#8).
func NewLocalSigner(email, keyID string, pemKey []byte) (*LocalSigner, error) {
	if email == "" {
		return nil, &models.SigningError{Err: errors.New("signer email is empty")}
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, &models.SigningError{Err: fmt.Errorf("parse private key: %w", err)}
	}
	return &LocalSigner{email: email, keyID: keyID, key: key}, nil
}

func (s *LocalSigner) Email() string { return s.email }

func (s *LocalSigner) Sign(_ context.Context, claims SaveClaims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if s.keyID != "" {
		t.Header["kid"] = s.keyID
	}
	signed, err := t.SignedString(s.key)
	if err != nil {
		return "", &models.SigningError{Err: err}
	}
	return signed, nil
}

// IAMSigner delegates signing to the IAM Credentials signJwt API, so the
// private key never leaves Google.
type IAMSigner struct {
	email   string
	svc     *iamcredentials.Service
	timeout time.Duration
}

// NewIAMSigner builds a signer for the given service account. Callers pass
// option.WithHTTPClient with a client authorised for the cloud-platform scope.
func NewIAMSigner(ctx context.Context, email string, timeout time.Duration, opts ...option.ClientOption) (*IAMSigner, error) {
	if email == "" {
		return nil, &models.SigningError{Err: errors.New("signer email is empty")}
	}
	svc, err := iamcredentials.NewService(ctx, opts...)
	if err != nil {
		return nil, &models.SigningError{Err: err}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &IAMSigner{email: email, svc: svc, timeout: timeout}, nil
}

func (s *IAMSigner) Email() string { return s.email }

func (s *IAMSigner) Sign(ctx context.Context, claims SaveClaims) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", &models.SigningError{Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	name := "projects/-/serviceAccounts/" + s.email
	resp, err := s.svc.Projects.ServiceAccounts.SignJwt(name, &iamcredentials.SignJwtRequest{
		Payload: string(payload),
	}).Context(ctx).Do()
	if err != nil {
		var credErr *models.CredentialError
		if errors.As(err, &credErr) {
			return "", credErr
		}
		return "", &models.SigningError{Err: fmt.Errorf("IAM signJwt: %w", err)}
	}
	if strings.Count(resp.SignedJwt, ".") != 2 {
		return "", &models.SigningError{Err: errors.New("IAM signJwt returned a malformed token")}
	}
	return resp.SignedJwt, nil
}

// SaveURL appends the signed token as the last path segment of base.
func SaveURL(base, signed string) string {
	if base == "" {
		base = DefaultSaveURLBase
	}
	return strings.TrimRight(base, "/") + "/" + url.PathEscape(signed)
}
