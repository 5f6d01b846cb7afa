package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRepoRegistrationLifecycle(t *testing.T) {
	s := newTestStore(t)

	reg := &RepoRegistration{Owner: "acme", Repo: "firmware", DefaultBranch: "main", Enabled: true}
	if err := s.AddRepo(reg); err != nil {
		t.Fatalf("AddRepo: %v", err)
	}
	if reg.ID == 0 {
		t.Error("AddRepo did not populate ID")
	}

	// The (owner, repo) pair is unique.
	dup := &RepoRegistration{Owner: "acme", Repo: "firmware", DefaultBranch: "dev"}
	if err := s.AddRepo(dup); err == nil {
		t.Error("duplicate AddRepo succeeded")
	}

	got, err := s.GetRepo("acme", "firmware")
	if err != nil {
		t.Fatalf("GetRepo: %v", err)
	}
	if got.DefaultBranch != "main" || !got.Enabled {
		t.Errorf("got %+v", got)
	}
	if got.FullName() != "acme/firmware" {
		t.Errorf("FullName = %q", got.FullName())
	}

	if err := s.SetRepoDefaultBranch("acme", "firmware", "release/2.x"); err != nil {
		t.Fatalf("SetRepoDefaultBranch: %v", err)
	}
	if err := s.SetRepoEnabled("acme", "firmware", false); err != nil {
		t.Fatalf("SetRepoEnabled: %v", err)
	}
	got, err = s.GetRepo("acme", "firmware")
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultBranch != "release/2.x" || got.Enabled {
		t.Errorf("after updates: %+v", got)
	}

	if err := s.RemoveRepo("acme", "firmware"); err != nil {
		t.Fatalf("RemoveRepo: %v", err)
	}
	if _, err := s.GetRepo("acme", "firmware"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRepo after remove: %v", err)
	}
	if err := s.RemoveRepo("acme", "firmware"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveRepo: %v", err)
	}
}

func TestEnabledRepos(t *testing.T) {
	s := newTestStore(t)

	for _, r := range []RepoRegistration{
		{Owner: "acme", Repo: "firmware", DefaultBranch: "main", Enabled: true},
		{Owner: "acme", Repo: "tools", DefaultBranch: "main", Enabled: false},
		{Owner: "other", Repo: "images", DefaultBranch: "master", Enabled: true},
	} {
		reg := r
		if err := s.AddRepo(&reg); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListRepos()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("ListRepos returned %d", len(all))
	}

	enabled, err := s.EnabledRepos()
	if err != nil {
		t.Fatal(err)
	}
	if len(enabled) != 2 {
		t.Fatalf("EnabledRepos returned %d", len(enabled))
	}
	// Insertion order is preserved.
	if enabled[0].Repo != "firmware" || enabled[1].Repo != "images" {
		t.Errorf("order: %s, %s", enabled[0].Repo, enabled[1].Repo)
	}
}

func TestResumeRecordSingleton(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetResumeRecord(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty store: %v", err)
	}

	rec := &ResumeRecord{
		PartialPath:     "/cache/artifacts/artifact_7.zip.partial",
		FinalPath:       "/cache/artifacts/artifact_7.zip",
		Owner:           "acme",
		Repo:            "firmware",
		Branch:          "main",
		ArtifactName:    "build-artifacts-spu",
		ArtifactID:      7,
		BytesDownloaded: 4_000_000,
		TotalSize:       10_000_000,
		DownloadURL:     "https://blobs.example.com/signed",
	}
	if err := s.SaveResumeRecord(rec); err != nil {
		t.Fatalf("SaveResumeRecord: %v", err)
	}

	got, err := s.GetResumeRecord()
	if err != nil {
		t.Fatalf("GetResumeRecord: %v", err)
	}
	if got.ArtifactID != 7 || got.BytesDownloaded != 4_000_000 || got.TotalSize != 10_000_000 {
		t.Errorf("got %+v", got)
	}
	if got.SavedAt.IsZero() {
		t.Error("SavedAt not populated")
	}

	// Saving again replaces the single row.
	rec.BytesDownloaded = 6_500_000
	if err := s.SaveResumeRecord(rec); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetResumeRecord()
	if err != nil {
		t.Fatal(err)
	}
	if got.BytesDownloaded != 6_500_000 {
		t.Errorf("bytes = %d after upsert", got.BytesDownloaded)
	}

	if err := s.ClearResumeRecord(); err != nil {
		t.Fatalf("ClearResumeRecord: %v", err)
	}
	if _, err := s.GetResumeRecord(); !errors.Is(err, ErrNotFound) {
		t.Errorf("after clear: %v", err)
	}
	// Clearing an absent record is fine.
	if err := s.ClearResumeRecord(); err != nil {
		t.Errorf("second clear: %v", err)
	}
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetSetting(SettingEnvironment, "production")
	if err != nil {
		t.Fatal(err)
	}
	if got != "production" {
		t.Errorf("unset setting = %q, want fallback", got)
	}

	if err := s.SetSetting(SettingEnvironment, "test"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(SettingEnvironment, "dev"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetSetting(SettingEnvironment, "production")
	if err != nil {
		t.Fatal(err)
	}
	if got != "dev" {
		t.Errorf("setting = %q, want dev", got)
	}
}

func TestReopenKeepsState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	s, err := New(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AddRepo(&RepoRegistration{Owner: "acme", Repo: "firmware", DefaultBranch: "main", Enabled: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := New(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	repos, err := s2.ListRepos()
	if err != nil {
		t.Fatal(err)
	}
	if len(repos) != 1 || repos[0].FullName() != "acme/firmware" {
		t.Errorf("after reopen: %+v", repos)
	}
}
