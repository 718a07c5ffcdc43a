package models

import (
	"fmt"
	"unicode/utf8"
)

// CredentialError is returned when no usable bearer token can be obtained.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credentials: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// NotFoundError is returned when an object id does not exist remotely.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object %s not found", e.ID)
}

const maxErrorBody = 200

// RemoteError describes a non-2xx, non-conflict response from the wallet API.
type RemoteError struct {
	Op     string
	Status int
	Body   string
}

func (e *RemoteError) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "...(clipped)"
	}
	return fmt.Sprintf("%s failed %d: %s", e.Op, e.Status, body)
}

// SigningError is returned when a save token cannot be signed.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("sign save token: %v", e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
