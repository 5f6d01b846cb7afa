package store

import "time"

// RepoRegistration is a user-managed GitHub repository entry.
// (Owner, Repo) is unique within the registration set.
type RepoRegistration struct {
	ID            int64
	Owner         string
	Repo          string
	DefaultBranch string
	Enabled       bool
	CreatedAt     time.Time
}

// FullName returns "owner/repo".
func (r *RepoRegistration) FullName() string {
	return r.Owner + "/" + r.Repo
}

// ResumeRecord is the persisted state of an interrupted artifact
// download. It is process-wide singleton state: at most one resumable
// download exists at a time.
//
// The record is only meaningful while the partial file exists on disk
// with a size exactly equal to BytesDownloaded; any mismatch discards
// it.
type ResumeRecord struct {
	PartialPath     string
	FinalPath       string
	Owner           string
	Repo            string
	Branch          string
	ArtifactName    string
	ArtifactID      int64
	BytesDownloaded int64
	TotalSize       int64
	DownloadURL     string
	SavedAt         time.Time
}

// Keys for the settings table.
const (
	SettingEnvironment  = "cdn_environment"
	SettingBranchFilter = "artifact_branch_filter"
	SettingSourceToggle = "source_toggle"
)
