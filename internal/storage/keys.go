package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// OutputKey builds the storage key of one named job output.
func OutputKey(jobType, jobID, name, mime string) string {
	name = unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if name == "" {
		name = "output"
	}
	ext := ExtensionForMIME(mime)
	if ext == "" {
		ext = ".bin"
	}
	category := unsafeNameChars.ReplaceAllString(strings.TrimSpace(jobType), "_")
	if category == "" {
		category = "images"
	}
	return EnsureExtension(fmt.Sprintf("generated/%s/%s/%s", category, jobID, name), mime, ext)
}

// EnsureExtension appends ext when the key carries none.
func EnsureExtension(key, mime, fallback string) string {
	if key == "" {
		return key
	}
	expected := ExtensionForMIME(mime)
	if expected == "" {
		expected = fallback
	}
	if strings.ToLower(filepath.Ext(key)) == expected {
		return key
	}
	return key + expected
}

// ExtensionForMIME maps the image types we persist to file extensions.
func ExtensionForMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
