package extract

import (
	"fmt"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ReadFile reads an export file and returns its text as UTF-8.
// A UTF-8 or UTF-16 byte-order mark selects the source encoding; without one the
// content is taken as UTF-8.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	text, err := Decode(data)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}

	return text, nil
}

// Decode converts raw export bytes to a UTF-8 string
func Decode(data []byte) (string, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
