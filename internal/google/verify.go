package google

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/api/idtoken"
)

// ValidateFunc checks a Google-signed ID token for an audience.
type ValidateFunc func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// Verifier admits staff presenting a Google ID token minted for Audience.
// When Emails is non-empty the token's email must be one of them.
type Verifier struct {
	Audience string
	Emails   []string
	Validate ValidateFunc
}

type StaffProfile struct{ Email string }

// NewVerifier returns a verifier backed by idtoken.Validate.
func NewVerifier(audience string, emails []string) Verifier {
	return Verifier{Audience: audience, Emails: emails, Validate: idtoken.Validate}
}

// Enabled reports whether an audience is configured.
func (v Verifier) Enabled() bool { return v.Audience != "" }

func (v Verifier) VerifyIDToken(ctx context.Context, idTok string) (*StaffProfile, error) {
	if v.Audience == "" {
		return nil, errors.New("staff audience not configured")
	}
	validate := v.Validate
	if validate == nil {
		validate = idtoken.Validate
	}
	payload, err := validate(ctx, idTok, v.Audience)
	if err != nil {
		return nil, err
	}
	email, _ := payload.Claims["email"].(string)
	if email == "" {
		return nil, errors.New("email not present in id token")
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, errors.New("email in id token is not verified")
	}
	email = strings.ToLower(email)
	if len(v.Emails) > 0 && !contains(v.Emails, email) {
		return nil, errors.New("email is not on the staff list")
	}
	return &StaffProfile{Email: email}, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
