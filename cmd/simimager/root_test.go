package main

import (
	"testing"

	"github.com/laerdal/simimager/internal/source"
)

func TestSplitRepoArg(t *testing.T) {
	cases := []struct {
		in          string
		owner, repo string
		wantErr     bool
	}{
		{"acme/firmware", "acme", "firmware", false},
		{"acme", "", "", true},
		{"acme/", "", "", true},
		{"/firmware", "", "", true},
		{"a/b/c", "", "", true},
	}
	for _, tc := range cases {
		owner, repo, err := splitRepoArg(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("splitRepoArg(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitRepoArg(%q): %v", tc.in, err)
			continue
		}
		if owner != tc.owner || repo != tc.repo {
			t.Errorf("splitRepoArg(%q) = %s, %s", tc.in, owner, repo)
		}
	}
}

func TestOriginLabel(t *testing.T) {
	cases := map[source.Origin]string{
		source.OriginCDN:            "cdn",
		source.OriginGitHubRelease:  "release",
		source.OriginGitHubArtifact: "artifact",
	}
	for origin, want := range cases {
		if got := originLabel(origin); got != want {
			t.Errorf("originLabel(%v) = %q, want %q", origin, got, want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("a very long description indeed", 10); got != "a very ..." {
		t.Errorf("truncate long = %q", got)
	}
}
