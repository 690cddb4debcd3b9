// Package domain locator.go contains the value returned by successful writes.
package domain

import (
	"net/url"
	"path/filepath"
	"strconv"
)

// Locator identifies a stored file: a file:// URI for directory-backed
// strategies or a content:// URI for indexed media entries.
type Locator string

// String returns the locator URI.
func (l Locator) String() string { return string(l) }

// FileLocator builds a file:// locator for an absolute path.
func FileLocator(p string) Locator {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
	return Locator(u.String())
}

// ContentLocator builds a content://media/external/<collection>/<id> locator.
func ContentLocator(collection string, id int64) Locator {
	u := url.URL{Scheme: "content", Host: "media", Path: "/external/" + collection + "/" + strconv.FormatInt(id, 10)}
	return Locator(u.String())
}
