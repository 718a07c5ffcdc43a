// Package naming derives Wallet object and class identifiers.
//
// Wallet ids have the shape "<issuerId>.<suffix>" where the suffix may only
// contain alphanumerics, '.', '_' and '-'.
package naming

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// DefaultPrefix is used for object suffixes when none is configured.
const DefaultPrefix = "user"

// NewObjectID returns "<issuer>.<prefix>_<hint>_<unix>_<random>".
// The random part carries 48 bits from a v4 UUID, so concurrent callers
// in the same second do not collide. An empty hint is left out.
func NewObjectID(issuerID, prefix, hint string, now time.Time) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	parts := []string{sanitize(prefix)}
	if h := NormalizeHint(hint); h != "" {
		parts = append(parts, h)
	}
	parts = append(parts, strconv.FormatInt(now.Unix(), 10), randomSuffix())
	return issuerID + "." + strings.Join(parts, "_")
}

// NormalizeHint lower-cases s and joins its whitespace-separated words with '_'.
func NormalizeHint(s string) string {
	return sanitize(strings.Join(strings.Fields(strings.ToLower(s)), "_"))
}

// NormalizeObjectID turns an externally supplied id into "<issuer>.<suffix>".
// Ids that already contain a '.' are returned unchanged; bare ids such as a
// browser device id become "<issuer>.<prefix>_<id>".
func NormalizeObjectID(issuerID, prefix, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, ".") {
		return raw
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return issuerID + "." + sanitize(prefix) + "_" + sanitize(raw)
}

// NormalizeClassID qualifies a bare class suffix with the issuer id.
func NormalizeClassID(issuerID, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, ".") {
		return raw
	}
	return issuerID + "." + sanitize(raw)
}

func randomSuffix() string {
	u := uuid.New()
	// bytes 0-5 of a v4 UUID are fully random
	return hex.EncodeToString(u[:6])
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '_' || r == '-' || r == '.':
			return r
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		default:
			return '_'
		}
	}, s)
}
