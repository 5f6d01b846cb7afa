// Package store provides SQLite-backed persistence for the state that
// must survive process restarts: repository registrations, the partial
// download resume record, and user-selected settings.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store provides SQLite-backed persistence
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a new Store, opening the SQLite database and running migrations
func New(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:     db,
		logger: logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Debug("store initialized", "path", dbPath)
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// ============================================================================
// Repository registrations
// ============================================================================

// AddRepo inserts a registration. Adding an (owner, repo) pair that
// already exists is an error; the pair is unique by schema.
func (s *Store) AddRepo(reg *RepoRegistration) error {
	const query = `
		INSERT INTO repo_registrations (owner, repo, default_branch, enabled)
		VALUES (?, ?, ?, ?)
	`

	result, err := s.db.Exec(query, reg.Owner, reg.Repo, reg.DefaultBranch, reg.Enabled)
	if err != nil {
		return fmt.Errorf("failed to insert repo registration %s/%s: %w", reg.Owner, reg.Repo, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	reg.ID = id
	return nil
}

// RemoveRepo deletes a registration by owner/repo.
func (s *Store) RemoveRepo(owner, repo string) error {
	result, err := s.db.Exec(
		"DELETE FROM repo_registrations WHERE owner = ? AND repo = ?", owner, repo)
	if err != nil {
		return fmt.Errorf("failed to delete repo registration: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repo registration %s/%s: %w", owner, repo, ErrNotFound)
	}
	return nil
}

// SetRepoEnabled toggles a registration.
func (s *Store) SetRepoEnabled(owner, repo string, enabled bool) error {
	result, err := s.db.Exec(
		"UPDATE repo_registrations SET enabled = ? WHERE owner = ? AND repo = ?",
		enabled, owner, repo)
	if err != nil {
		return fmt.Errorf("failed to update repo registration: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repo registration %s/%s: %w", owner, repo, ErrNotFound)
	}
	return nil
}

// SetRepoDefaultBranch updates the default branch for a registration.
func (s *Store) SetRepoDefaultBranch(owner, repo, branch string) error {
	result, err := s.db.Exec(
		"UPDATE repo_registrations SET default_branch = ? WHERE owner = ? AND repo = ?",
		branch, owner, repo)
	if err != nil {
		return fmt.Errorf("failed to update repo registration: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("repo registration %s/%s: %w", owner, repo, ErrNotFound)
	}
	return nil
}

// GetRepo retrieves one registration.
func (s *Store) GetRepo(owner, repo string) (*RepoRegistration, error) {
	const query = `
		SELECT id, owner, repo, default_branch, enabled, created_at
		FROM repo_registrations WHERE owner = ? AND repo = ?
	`
	reg := &RepoRegistration{}
	err := s.db.QueryRow(query, owner, repo).Scan(
		&reg.ID, &reg.Owner, &reg.Repo, &reg.DefaultBranch, &reg.Enabled, &reg.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("repo registration %s/%s: %w", owner, repo, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query repo registration: %w", err)
	}
	return reg, nil
}

// ListRepos returns all registrations ordered by insertion.
func (s *Store) ListRepos() ([]RepoRegistration, error) {
	const query = `
		SELECT id, owner, repo, default_branch, enabled, created_at
		FROM repo_registrations ORDER BY id
	`
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query repo registrations: %w", err)
	}
	defer rows.Close()

	var regs []RepoRegistration
	for rows.Next() {
		var reg RepoRegistration
		if err := rows.Scan(&reg.ID, &reg.Owner, &reg.Repo, &reg.DefaultBranch,
			&reg.Enabled, &reg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan repo registration: %w", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// EnabledRepos returns only enabled registrations.
func (s *Store) EnabledRepos() ([]RepoRegistration, error) {
	all, err := s.ListRepos()
	if err != nil {
		return nil, err
	}
	enabled := make([]RepoRegistration, 0, len(all))
	for _, reg := range all {
		if reg.Enabled {
			enabled = append(enabled, reg)
		}
	}
	return enabled, nil
}

// ============================================================================
// Resume record (singleton)
// ============================================================================

// SaveResumeRecord upserts the singleton resume record.
func (s *Store) SaveResumeRecord(rec *ResumeRecord) error {
	const query = `
		INSERT INTO partial_download (
			id, partial_path, final_path, owner, repo, branch,
			artifact_name, artifact_id, bytes_downloaded, total_size,
			download_url, saved_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			partial_path = excluded.partial_path,
			final_path = excluded.final_path,
			owner = excluded.owner,
			repo = excluded.repo,
			branch = excluded.branch,
			artifact_name = excluded.artifact_name,
			artifact_id = excluded.artifact_id,
			bytes_downloaded = excluded.bytes_downloaded,
			total_size = excluded.total_size,
			download_url = excluded.download_url,
			saved_at = CURRENT_TIMESTAMP
	`

	_, err := s.db.Exec(query,
		rec.PartialPath, rec.FinalPath, rec.Owner, rec.Repo, rec.Branch,
		rec.ArtifactName, rec.ArtifactID, rec.BytesDownloaded, rec.TotalSize,
		rec.DownloadURL)
	if err != nil {
		return fmt.Errorf("failed to save resume record: %w", err)
	}
	return nil
}

// GetResumeRecord returns the singleton resume record, or ErrNotFound.
func (s *Store) GetResumeRecord() (*ResumeRecord, error) {
	const query = `
		SELECT partial_path, final_path, owner, repo, branch,
		       artifact_name, artifact_id, bytes_downloaded, total_size,
		       download_url, saved_at
		FROM partial_download WHERE id = 1
	`
	rec := &ResumeRecord{}
	err := s.db.QueryRow(query).Scan(
		&rec.PartialPath, &rec.FinalPath, &rec.Owner, &rec.Repo, &rec.Branch,
		&rec.ArtifactName, &rec.ArtifactID, &rec.BytesDownloaded, &rec.TotalSize,
		&rec.DownloadURL, &rec.SavedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("resume record: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query resume record: %w", err)
	}
	return rec, nil
}

// ClearResumeRecord deletes the singleton resume record. Clearing a
// record that does not exist is not an error.
func (s *Store) ClearResumeRecord() error {
	if _, err := s.db.Exec("DELETE FROM partial_download WHERE id = 1"); err != nil {
		return fmt.Errorf("failed to clear resume record: %w", err)
	}
	return nil
}

// ============================================================================
// Settings
// ============================================================================

// SetSetting upserts a settings key.
func (s *Store) SetSetting(key, value string) error {
	const query = `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}

// GetSetting returns a settings value, or fallback when unset.
func (s *Store) GetSetting(key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return fallback, nil
		}
		return "", fmt.Errorf("failed to query setting %q: %w", key, err)
	}
	return value, nil
}
