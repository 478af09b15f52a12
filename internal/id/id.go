package id

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sattu-dealer/Image-Tools/internal/domain"
)

const (
	maxBaseNameLen = 64
	maxTagLen      = 12
)

// New returns an identifier for a persisted image record.
func New() string {
	return uuid.NewString()
}

// OutputName derives the stored file name of a processed image as
// <base>-<owner>-<unix millis>-<tag>.<format>. tag comes from requestID, so
// the same inputs always give the same name while two requests of one owner
// for equally named files in the same millisecond still differ. An empty
// requestID draws a random tag. Every component is reduced to [A-Za-z0-9_-]
// so the result can never escape its directory.
func OutputName(originalName, ownerID, requestID string, at time.Time, format domain.Format) string {
	base := strings.ReplaceAll(strings.TrimSpace(originalName), `\`, "/")
	base = path.Base(base)
	base = strings.TrimSuffix(base, path.Ext(base))
	if base == "." || base == "/" || base == "" {
		base = "image"
	}
	if len(base) > maxBaseNameLen {
		base = base[:maxBaseNameLen]
	}

	return fmt.Sprintf(
		"%s-%s-%d-%s.%s",
		SanitizeToken(base),
		SanitizeToken(ownerID),
		at.UTC().UnixMilli(),
		requestTag(requestID),
		SanitizeToken(string(format)),
	)
}

// requestTag keeps the first maxTagLen token characters of requestID with
// separators dropped. For uuids that is 48 random bits.
func requestTag(requestID string) string {
	if strings.TrimSpace(requestID) == "" {
		requestID = New()
	}
	tag := strings.NewReplacer("-", "", "_", "").Replace(SanitizeToken(requestID))
	if tag == "" {
		tag = strings.ReplaceAll(New(), "-", "")
	}
	if len(tag) > maxTagLen {
		tag = tag[:maxTagLen]
	}
	return tag
}

// SanitizeToken replaces every rune outside [A-Za-z0-9_-] with '_'.
func SanitizeToken(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return "unknown"
	}

	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}
