// Package domain location.go describes where a file logically lives.
package domain

import (
	"fmt"
	"strings"
)

// LocationKind enumerates the closed set of storage locations.
type LocationKind uint8

// Location kinds. The first three are app-private, the rest are shared media
// categories visible to the user and other applications.
const (
	InternalAppStorage LocationKind = iota + 1
	InternalAppCache
	ExternalAppStorage
	PublicDownloads
	PublicDocuments
	PublicPictures
	PublicDcim
	PublicMovies
	PublicMusic
	PublicAudiobooks
	PublicNotifications
	PublicRingtones
	PublicAlarms
	PublicPodcasts
	PublicRecordings
	PublicScreenshots
)

var kindNames = map[LocationKind]string{
	InternalAppStorage:  "internal",
	InternalAppCache:    "cache",
	ExternalAppStorage:  "external",
	PublicDownloads:     "downloads",
	PublicDocuments:     "documents",
	PublicPictures:      "pictures",
	PublicDcim:          "dcim",
	PublicMovies:        "movies",
	PublicMusic:         "music",
	PublicAudiobooks:    "audiobooks",
	PublicNotifications: "notifications",
	PublicRingtones:     "ringtones",
	PublicAlarms:        "alarms",
	PublicPodcasts:      "podcasts",
	PublicRecordings:    "recordings",
	PublicScreenshots:   "screenshots",
}

// publicDirs maps each public kind to its shared directory name.
var publicDirs = map[LocationKind]string{
	PublicDownloads:     "Download",
	PublicDocuments:     "Documents",
	PublicPictures:      "Pictures",
	PublicDcim:          "DCIM",
	PublicMovies:        "Movies",
	PublicMusic:         "Music",
	PublicAudiobooks:    "Audiobooks",
	PublicNotifications: "Notifications",
	PublicRingtones:     "Ringtones",
	PublicAlarms:        "Alarms",
	PublicPodcasts:      "Podcasts",
	PublicRecordings:    "Recordings",
	PublicScreenshots:   "Screenshots",
}

// String returns the canonical lower-case name of the kind.
func (k LocationKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the enumerated kinds.
func (k LocationKind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// IsPublic reports whether k is a shared, user-visible location. This is the
// single classification used by both backend selection and the encryption
// policy gate.
func (k LocationKind) IsPublic() bool {
	switch k {
	case InternalAppStorage, InternalAppCache, ExternalAppStorage:
		return false
	}
	return k.Valid()
}

// StorageLocation is an immutable value naming a location kind and an optional
// sub-directory within it.
type StorageLocation struct {
	kind LocationKind
	sub  string
}

// NewLocation returns a location of the given kind. The cache location does
// not support sub-directories; any sub-directory passed for it is dropped.
func NewLocation(kind LocationKind, subDirectory string) StorageLocation {
	if kind == InternalAppCache {
		subDirectory = ""
	}
	return StorageLocation{kind: kind, sub: strings.Trim(subDirectory, "/")}
}

// Kind returns the location kind.
func (l StorageLocation) Kind() LocationKind { return l.kind }

// SubDirectory returns the sub-directory without leading or trailing slashes.
func (l StorageLocation) SubDirectory() string { return l.sub }

// IsPublic reports whether the location is shared storage.
func (l StorageLocation) IsPublic() bool { return l.kind.IsPublic() }

// PublicDirectoryName returns the shared directory name for a public location.
func (l StorageLocation) PublicDirectoryName() (string, error) {
	if d, ok := publicDirs[l.kind]; ok {
		return d, nil
	}
	return "", fmt.Errorf("%w: %s is not a public directory", ErrUnsupportedLocation, l.kind)
}

// String renders the location as kind or kind:sub/dir.
func (l StorageLocation) String() string {
	if l.sub == "" {
		return l.kind.String()
	}
	return l.kind.String() + ":" + l.sub
}

// ParseLocation parses the form produced by String.
func ParseLocation(s string) (StorageLocation, error) {
	s = strings.TrimSpace(s)
	name, sub, _ := strings.Cut(s, ":")
	name = strings.ToLower(name)
	for k, n := range kindNames {
		if n == name {
			if err := ValidateSubDirectory(sub); err != nil {
				return StorageLocation{}, err
			}
			return NewLocation(k, sub), nil
		}
	}
	return StorageLocation{}, fmt.Errorf("%w: %q", ErrUnsupportedLocation, s)
}
