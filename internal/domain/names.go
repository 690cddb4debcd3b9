// Package domain names.go contains functions to validate file names and
// sub-directories before they are joined onto a location root.
package domain

import (
	"path"
	"strings"
)

// ValidateFileName enforces that name is a single path element:
// - non-empty
// - not "." or ".."
// - no separators or NUL bytes
// Returns ErrInvalidName on failure.
func ValidateFileName(name string) error {
	if !isValidElem(name) {
		return ErrInvalidName
	}
	return nil
}

// ValidateSubDirectory accepts an empty string or a slash-separated relative
// path whose every element passes the file name rules.
func ValidateSubDirectory(sub string) error {
	sub = strings.Trim(sub, "/")
	if sub == "" {
		return nil
	}
	for _, elem := range strings.Split(sub, "/") {
		if !isValidElem(elem) {
			return ErrInvalidName
		}
	}
	return nil
}

// ChildPath joins the location sub-directory and the file name with forward
// slashes. Both parts are validated first.
func ChildPath(loc StorageLocation, name string) (string, error) {
	if err := ValidateFileName(name); err != nil {
		return "", err
	}
	if err := ValidateSubDirectory(loc.SubDirectory()); err != nil {
		return "", err
	}
	if loc.SubDirectory() == "" {
		return name, nil
	}
	return path.Join(loc.SubDirectory(), name), nil
}

// Extension returns the lower-cased text after the last '.', or "" when the
// name has none.
func Extension(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}

// isValidElem performs validation without allocating errors.
func isValidElem(s string) bool {
	if s == "" || s == "." || s == ".." {
		return false
	}
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '/', '\\', 0:
			return false
		}
	}
	return true
}
