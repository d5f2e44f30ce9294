// Package naming decides where a downloaded attachment is written.
package naming

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// FallbackName is used when neither the declared name nor the URL yields a filename
const FallbackName = "download.bin"

// genericName is the forum's proxy endpoint; it names the script, not the attachment
const genericName = "index.php"

// queryKeys are the parameters forum proxies use to carry the real filename, by priority
var queryKeys = []string{"media", "attachment", "file", "filename", "download"}

// filenamePattern matches a segment ending in an extension
var filenamePattern = regexp.MustCompile(`\.[A-Za-z0-9]{2,8}$`)

// Resolve returns the base filename for an attachment.
// The declared name wins unless it is empty or generic; then the URL's query parameters,
// then its path are searched; FallbackName is the last resort.
func Resolve(declared, rawURL string) string {
	if name := Sanitize(declared); usable(name) {
		return name
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return FallbackName
	}

	for _, key := range queryKeys {
		value, ok := queryValue(u.RawQuery, key)
		if !ok {
			continue
		}
		value = strings.ReplaceAll(unescape(value), `\`, "/")
		if name, ok := scanSegments(value); ok {
			return name
		}
	}

	p := unescape(u.EscapedPath())
	if name, ok := scanSegments(p); ok {
		return name
	}

	if base := path.Base(p); base != "." && base != "/" {
		if name := Sanitize(base); usable(name) {
			return name
		}
	}

	return FallbackName
}

// Sanitize replaces characters that are illegal in filenames with underscores and trims
// surrounding whitespace
func Sanitize(name string) string {
	name = strings.Map(func(r rune) rune {
		if r < 0x20 {
			return '_'
		}
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		return r
	}, name)

	return strings.TrimSpace(name)
}

func usable(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.EqualFold(name, genericName)
}

// scanSegments walks a slash-separated value from the end and returns the first
// segment that looks like a filename. Anything from the first ? or # is not part of the name.
func scanSegments(value string) (string, bool) {
	segments := strings.Split(value, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if cut := strings.IndexAny(seg, "?#"); cut >= 0 {
			seg = seg[:cut]
		}
		if !filenamePattern.MatchString(seg) {
			continue
		}
		if name := Sanitize(trimAttachmentID(seg)); usable(name) {
			return name, true
		}
	}
	return "", false
}

// trimAttachmentID drops the numeric id XenForo appends to media names,
// e.g. "42-photo.jpg.67890" -> "42-photo.jpg"
func trimAttachmentID(seg string) string {
	dot := strings.LastIndexByte(seg, '.')
	if dot <= 0 || !isDigits(seg[dot+1:]) {
		return seg
	}

	inner := seg[:dot]
	innerDot := strings.LastIndexByte(inner, '.')
	if innerDot < 0 {
		return seg
	}

	ext := inner[innerDot+1:]
	if len(ext) < 2 || len(ext) > 8 || !isAlnum(ext) || isDigits(ext) {
		return seg
	}

	return inner
}

// queryValue returns the first value for key. Values that fail to decode are returned raw.
func queryValue(rawQuery, key string) (string, bool) {
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if dk, err := url.QueryUnescape(k); err == nil {
			k = dk
		}
		if k != key {
			continue
		}
		if dv, err := url.QueryUnescape(v); err == nil {
			v = dv
		}
		return v, v != ""
	}
	return "", false
}

func unescape(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z') {
			return false
		}
	}
	return true
}
