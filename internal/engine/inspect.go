package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/laerdal/simimager/internal/download"
	"github.com/laerdal/simimager/internal/inspect"
	"github.com/laerdal/simimager/internal/source"
	"github.com/laerdal/simimager/internal/store"
)

// ErrInspectionActive reports a second inspection started while one is
// in flight; callers must cancel the active one first.
var ErrInspectionActive = errors.New("an artifact inspection is already active")

// CachePathFor maps an artifact ID to its cache file location.
func (a *Aggregator) CachePathFor(artifactID int64) string {
	return filepath.Join(a.cacheDir, "artifacts", fmt.Sprintf("artifact_%d.zip", artifactID))
}

// InspectArtifact produces the payload file listing for an artifact
// candidate, downloading it first if needed.
//
// A cached archive is revalidated by scanning it: at least one payload
// file means the cache is good and is used as-is; zero payload files
// means the cache entry is stale or corrupt, so it is deleted and the
// artifact re-downloaded. The download is resumable: a matching
// persisted resume record continues from the recorded offset.
func (a *Aggregator) InspectArtifact(ctx context.Context, cand source.CandidateImage) ([]inspect.PayloadFile, string, error) {
	if !cand.IsArtifact() {
		return nil, "", fmt.Errorf("candidate %q is not a CI artifact", cand.Name)
	}

	a.mu.Lock()
	if a.inspecting {
		a.mu.Unlock()
		return nil, "", ErrInspectionActive
	}
	a.inspecting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.inspecting = false
		a.mu.Unlock()
	}()

	cachePath := a.CachePathFor(cand.ArtifactID)
	if _, err := os.Stat(cachePath); err == nil {
		files := a.inspector.Scan(cachePath)
		if len(files) > 0 {
			a.logger.Info("using cached artifact", "path", cachePath, "payload_files", len(files))
			a.emitContents(files, cachePath)
			return files, cachePath, nil
		}
		a.logger.Warn("cached artifact has no payload files, re-downloading", "path", cachePath)
		_ = os.Remove(cachePath)
	}

	if a.downloader.State() != download.StateIdle {
		if err := a.downloader.Reset(); err != nil {
			return nil, "", err
		}
	}

	_, err := a.downloader.Run(ctx, download.Request{
		Owner:        cand.Owner,
		Repo:         cand.Repo,
		Branch:       cand.Branch,
		ArtifactID:   cand.ArtifactID,
		ArtifactName: cand.Name,
		FinalPath:    cachePath,
	})
	if err != nil {
		if errors.Is(err, download.ErrCancelled) {
			if a.OnInspectionCancelled != nil {
				a.OnInspectionCancelled()
			}
			return nil, "", err
		}
		return nil, "", fmt.Errorf("artifact download failed: %w", err)
	}

	files := a.inspector.Scan(cachePath)
	a.emitContents(files, cachePath)
	return files, cachePath, nil
}

// CancelInspection aborts the in-flight artifact download. preserve
// keeps the partial file and resume record for a later resume.
func (a *Aggregator) CancelInspection(preserve bool) {
	a.downloader.Cancel(preserve)
}

// PendingResume returns the validated resume record, or nil.
func (a *Aggregator) PendingResume() *store.ResumeRecord {
	return a.downloader.LoadResume()
}

// ResumePending continues the persisted partial download to completion
// and inspects the result.
func (a *Aggregator) ResumePending(ctx context.Context) ([]inspect.PayloadFile, string, error) {
	rec := a.downloader.LoadResume()
	if rec == nil {
		return nil, "", errors.New("no resumable download found")
	}
	return a.InspectArtifact(ctx, source.CandidateImage{
		Name:       rec.ArtifactName,
		Origin:     source.OriginGitHubArtifact,
		ArtifactID: rec.ArtifactID,
		Owner:      rec.Owner,
		Repo:       rec.Repo,
		Branch:     rec.Branch,
	})
}

// DiscardPending deletes the partial file and clears the resume record.
func (a *Aggregator) DiscardPending() {
	a.downloader.DiscardResume()
}

func (a *Aggregator) emitContents(files []inspect.PayloadFile, cachePath string) {
	if a.OnArtifactContents != nil {
		a.OnArtifactContents(files, cachePath)
	}
}
