package domain

import (
	"errors"
	"testing"
)

func TestLocationClassification(t *testing.T) {
	t.Parallel()
	private := []LocationKind{InternalAppStorage, InternalAppCache, ExternalAppStorage}
	for _, k := range private {
		if NewLocation(k, "").IsPublic() {
			t.Fatalf("%s should be private", k)
		}
	}
	for k := PublicDownloads; k <= PublicScreenshots; k++ {
		if !NewLocation(k, "x").IsPublic() {
			t.Fatalf("%s should be public", k)
		}
		if _, err := NewLocation(k, "").PublicDirectoryName(); err != nil {
			t.Fatalf("%s missing public directory name: %v", k, err)
		}
	}
	if LocationKind(0).IsPublic() || LocationKind(99).IsPublic() {
		t.Fatalf("invalid kinds must not classify as public")
	}
}

func TestPublicDirectoryNamePrivate(t *testing.T) {
	t.Parallel()
	_, err := NewLocation(InternalAppStorage, "").PublicDirectoryName()
	if !errors.Is(err, ErrUnsupportedLocation) {
		t.Fatalf("expected ErrUnsupportedLocation, got %v", err)
	}
	d, err := NewLocation(PublicDownloads, "").PublicDirectoryName()
	if err != nil || d != "Download" {
		t.Fatalf("downloads dir = %q, %v", d, err)
	}
}

func TestCacheDropsSubDirectory(t *testing.T) {
	t.Parallel()
	loc := NewLocation(InternalAppCache, "nested/dir")
	if loc.SubDirectory() != "" {
		t.Fatalf("cache sub-directory should be dropped, got %q", loc.SubDirectory())
	}
	loc = NewLocation(InternalAppStorage, "/nested/dir/")
	if loc.SubDirectory() != "nested/dir" {
		t.Fatalf("expected trimmed sub-directory, got %q", loc.SubDirectory())
	}
}

func TestParseLocation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		want    StorageLocation
		wantErr error
	}{
		{name: "plain", input: "internal", want: NewLocation(InternalAppStorage, "")},
		{name: "sub dir", input: "downloads:reports/2024", want: NewLocation(PublicDownloads, "reports/2024")},
		{name: "upper case", input: " Pictures ", want: NewLocation(PublicPictures, "")},
		{name: "unknown", input: "nowhere", wantErr: ErrUnsupportedLocation},
		{name: "traversal", input: "internal:../etc", wantErr: ErrInvalidName},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseLocation(tc.input)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v want %+v", got, tc.want)
			}
			if back, _ := ParseLocation(got.String()); back != got {
				t.Fatalf("String round trip mismatch: %q", got.String())
			}
		})
	}
}

func TestKeyPurposeAlias(t *testing.T) {
	t.Parallel()
	if a, _ := PurposeText.Alias(); a != "text_key" {
		t.Fatalf("text alias %q", a)
	}
	if a, _ := PurposeFile.Alias(); a != "file_key" {
		t.Fatalf("file alias %q", a)
	}
	if _, err := KeyPurpose(7).Alias(); !errors.Is(err, ErrUnknownPurpose) {
		t.Fatalf("expected ErrUnknownPurpose, got %v", err)
	}
}
