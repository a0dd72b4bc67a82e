package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	base := t.TempDir()

	tests := []struct {
		name string
		path string
		want string
	}{
		{"tilde", "~/notes", filepath.Join(home, "notes")},
		{"bare tilde", "~", home},
		{"relative to base", "fixtures/data", filepath.Join(base, "fixtures", "data")},
		{"dot relative", "./x/../y", filepath.Join(base, "y")},
		{"absolute", "/opt/shared", "/opt/shared"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandPath(tt.path, home, base)
			if err != nil {
				t.Fatalf("ExpandPath(%q) error = %v", tt.path, err)
			}
			// Existing temp dirs may resolve through symlinks (macOS /var -> /private/var).
			want := tt.want
			if resolved, err := filepath.EvalSymlinks(want); err == nil {
				want = resolved
			}
			if got != want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.path, got, want)
			}
		})
	}

	if _, err := ExpandPath("", home, base); err == nil {
		t.Error("ExpandPath(\"\") error = nil, want error")
	}
}

func TestExpandPathFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real")
	if err := os.Mkdir(target, 0755); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	got, err := ExpandPath(link, dir, dir)
	if err != nil {
		t.Fatalf("ExpandPath() error = %v", err)
	}
	want, _ := filepath.EvalSymlinks(target)
	if got != want {
		t.Errorf("ExpandPath() = %q, want %q", got, want)
	}
}

func TestValidateMountPath(t *testing.T) {
	home := "/home/dev"

	tests := []struct {
		path    string
		wantErr bool
	}{
		{"/home/dev/.gnupg", true},
		{"/home/dev/.gnupg/private-keys-v1.d", true},
		{"/home/dev/.aws/credentials", true},
		{"/home/dev/.aws/config", false},
		{"/home/dev/.gnupgx", false},
		{"/home/dev/projects", false},
		{"/srv/data", false},
		{"/home/dev", true},
		{"/home/dev/.docker", true},
		{"/home/dev/.aws", true},
		{"/home", true},
		{"/", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			err := ValidateMountPath(tt.path, home)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMountPath(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			}
		})
	}
}

func TestPathMatches(t *testing.T) {
	tests := []struct {
		path, dir string
		want      bool
	}{
		{"/a/b/c", "/a/b", true},
		{"/a/b", "/a/b", true},
		{"/a/bc", "/a/b", false},
		{"/a", "/a/b", false},
		{"/a/..b", "/a", true},
	}
	for _, tt := range tests {
		if got := pathMatches(tt.path, tt.dir); got != tt.want {
			t.Errorf("pathMatches(%q, %q) = %v, want %v", tt.path, tt.dir, got, tt.want)
		}
	}
}
