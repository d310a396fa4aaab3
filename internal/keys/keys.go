// Package keys implements the derivative key naming convention.
//
// Derivative keys are derived purely from the source object key: the
// extension after the last "/" is replaced (or appended) with ".webp",
// and sized derivatives carry a "-<width>" infix before the extension.
package keys

import (
	"fmt"
	"net/url"
	"strings"
)

// DerivativeExt is the extension shared by every derivative key.
const DerivativeExt = "webp"

// DecodeKey normalizes an object key as delivered by a bucket
// notification: literal "+" becomes a space, then percent-escapes are
// decoded. If percent-decoding fails the "+"-substituted string is
// returned as-is; a malformed key must not fail the pipeline.
func DecodeKey(raw string) string {
	if raw == "" {
		return ""
	}

	withSpaces := strings.ReplaceAll(raw, "+", " ")
	decoded, err := url.PathUnescape(withSpaces)
	if err != nil {
		return withSpaces
	}
	return decoded
}

// DeriveKey returns the derivative key for a source key. Width 0 names
// the canonical derivative; any other width names a sized derivative.
//
//	a/b/photo.jpg -> a/b/photo.webp
//	a/b/photo.jpg, 480 -> a/b/photo-480.webp
//	noext -> noext.webp
func DeriveKey(key string, width int) string {
	if key == "" {
		return ""
	}

	base := key
	lastSlash := strings.LastIndexByte(key, '/')
	if dot := strings.LastIndexByte(key, '.'); dot > lastSlash {
		base = key[:dot]
	}

	if width > 0 {
		return fmt.Sprintf("%s-%d.%s", base, width, DerivativeExt)
	}
	return base + "." + DerivativeExt
}
