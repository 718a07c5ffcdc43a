package models

import (
	"strings"
)

// State values for pass objects. This service only ever writes StateActive.
const (
	StateActive   = "ACTIVE"
	StateInactive = "INACTIVE"
)

// ObjectKind selects which Wallet object type passes are issued as.
type ObjectKind string

const (
	KindGeneric ObjectKind = "generic"
	KindLoyalty ObjectKind = "loyalty"
)

// ParseObjectKind maps the OBJECT_TYPE setting to a kind; anything unknown is generic.
func ParseObjectKind(s string) ObjectKind {
	if strings.EqualFold(strings.TrimSpace(s), string(KindLoyalty)) {
		return KindLoyalty
	}
	return KindGeneric
}

// PayloadKey is the key under which objects of this kind appear in a save token payload.
func (k ObjectKind) PayloadKey() string {
	if k == KindLoyalty {
		return "loyaltyObjects"
	}
	return "genericObjects"
}

// TextModule is one header/body row shown on the pass.
type TextModule struct {
	ID     string `json:"id,omitempty"`
	Header string `json:"header,omitempty"`
	Body   string `json:"body,omitempty"`
}

// PassFields is the mutable display state of a pass object.
// Zero values mean "unset": a patch only touches the non-zero fields.
type PassFields struct {
	Title        string       `json:"title,omitempty"`
	Header       string       `json:"header,omitempty"`
	Subheader    string       `json:"subheader,omitempty"`
	HeroImageURI string       `json:"heroImage,omitempty"`
	Modules      []TextModule `json:"modules,omitempty"`
	Background   string       `json:"hexBackgroundColor,omitempty"`
	State        string       `json:"state,omitempty"`
}

// Clone returns a copy that shares no slices with f.
func (f PassFields) Clone() PassFields {
	cp := f
	if f.Modules != nil {
		cp.Modules = append([]TextModule(nil), f.Modules...)
	}
	return cp
}

// Merge overlays the non-zero fields of patch onto f.
func (f PassFields) Merge(patch PassFields) PassFields {
	out := f.Clone()
	if patch.Title != "" {
		out.Title = patch.Title
	}
	if patch.Header != "" {
		out.Header = patch.Header
	}
	if patch.Subheader != "" {
		out.Subheader = patch.Subheader
	}
	if patch.HeroImageURI != "" {
		out.HeroImageURI = patch.HeroImageURI
	}
	if patch.Modules != nil {
		out.Modules = append([]TextModule(nil), patch.Modules...)
	}
	if patch.Background != "" {
		out.Background = patch.Background
	}
	if patch.State != "" {
		out.State = patch.State
	}
	return out
}

// PassObject is a pass as last read from the wallet provider.
type PassObject struct {
	ID      string     `json:"id"`
	ClassID string     `json:"classId"`
	Kind    ObjectKind `json:"kind"`
	PassFields
}

// ObjectRef points at an object from a save token payload.
type ObjectRef struct {
	ID      string `json:"id"`
	ClassID string `json:"classId,omitempty"`
	State   string `json:"state,omitempty"`
}

// ClassSpec describes the pass class objects are issued from.
type ClassSpec struct {
	ID            string
	BusinessName  string
	LogoURI       string
	BackgroundHex string
}

// CreateOutcome is the result of a create call that did not fail.
type CreateOutcome int

const (
	Created CreateOutcome = iota
	AlreadyExists
)

func (o CreateOutcome) String() string {
	if o == AlreadyExists {
		return "already_exists"
	}
	return "created"
}
