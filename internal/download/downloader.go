// Package download implements the resumable artifact downloader: an
// explicit state machine handling the API redirect, byte-range resume
// against the blob-storage target, incremental disk writes, and a
// persisted resume record that survives process restarts.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/laerdal/simimager/internal/ghapi"
	"github.com/laerdal/simimager/internal/safety"
	"github.com/laerdal/simimager/internal/store"
)

// ErrCancelled reports a user-initiated cancellation. It is not a
// failure: callers must not surface it as an error to the user.
var ErrCancelled = errors.New("download cancelled")

// ProgressFunc reports cumulative progress including any resumed
// offset. bytesTotal is 0 when the upstream did not announce a length.
type ProgressFunc func(bytesReceived, bytesTotal int64)

// ResumeStore is the persistence surface for the singleton resume
// record, satisfied by *store.Store.
type ResumeStore interface {
	SaveResumeRecord(*store.ResumeRecord) error
	GetResumeRecord() (*store.ResumeRecord, error)
	ClearResumeRecord() error
}

// Request identifies one artifact to fetch and where to put it.
type Request struct {
	Owner        string
	Repo         string
	Branch       string
	ArtifactID   int64
	ArtifactName string
	FinalPath    string
}

// Result describes a completed download.
type Result struct {
	Path     string
	Size     int64
	Resumed  bool
	Duration time.Duration
}

// Downloader drives one artifact transfer at a time. Starting a second
// transfer while one is in flight is a caller error; cancel first.
type Downloader struct {
	api    *ghapi.Client
	resume ResumeStore
	logger *slog.Logger

	// blobClient has no overall timeout: artifact bodies can take as
	// long as they take. Cancellation still works via context.
	blobClient *http.Client

	// OnProgress, if set, is invoked as data arrives.
	OnProgress ProgressFunc

	mu           sync.Mutex
	state        State
	cancelRun    context.CancelFunc
	preserve     bool
	bytesWritten int64
	totalSize    int64
}

// NewDownloader creates a downloader. resume may not be nil; the
// record lifecycle is part of the state machine's contract.
func NewDownloader(api *ghapi.Client, resume ResumeStore, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		api:        api,
		resume:     resume,
		logger:     logger,
		blobClient: safety.NewHTTPClient(0),
		state:      StateIdle,
	}
}

// State returns the current state.
func (d *Downloader) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// transition moves the machine to a new state, enforcing the table.
func (d *Downloader) transition(to State) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !transitionAllowed(d.state, to) {
		return fmt.Errorf("illegal state transition %s -> %s", d.state, to)
	}
	d.logger.Debug("downloader state change", "from", d.state.String(), "to", to.String())
	d.state = to
	return nil
}

// Cancel aborts the in-flight transfer. With preserve, the partial
// file is kept and a resume record persisted; without, partial state
// is discarded. Cancelling an idle downloader is a no-op.
func (d *Downloader) Cancel(preserve bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateRedirectPending && d.state != StateDownloading {
		return
	}
	d.preserve = preserve
	if d.cancelRun != nil {
		d.cancelRun()
	}
}

// LoadResume returns the persisted resume record if it is still valid:
// the partial file must exist with a size exactly equal to the
// recorded byte count. Any mismatch silently discards the record; this
// is never surfaced as an error.
func (d *Downloader) LoadResume() *store.ResumeRecord {
	rec, err := d.resume.GetResumeRecord()
	if err != nil {
		return nil
	}

	fi, statErr := os.Stat(rec.PartialPath)
	if statErr != nil || fi.Size() != rec.BytesDownloaded {
		d.logger.Debug("resume record invalid, discarding",
			"partial", rec.PartialPath, "recorded_bytes", rec.BytesDownloaded)
		_ = d.resume.ClearResumeRecord()
		return nil
	}
	return rec
}

// Run performs the full transfer: resolve the artifact redirect, then
// fetch the blob target, resuming from a valid partial file when the
// persisted record matches this artifact. Run blocks until the
// transfer reaches a terminal state; it returns ErrCancelled on
// cancellation, which the caller must not treat as a failure.
func (d *Downloader) Run(ctx context.Context, req Request) (*Result, error) {
	if err := d.transition(StateRedirectPending); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancelRun = cancel
	d.preserve = false
	d.bytesWritten = 0
	d.totalSize = 0
	d.mu.Unlock()

	start := time.Now()

	location, err := d.api.ResolveArtifactRedirect(runCtx, req.Owner, req.Repo, req.ArtifactID)
	if err != nil {
		if runCtx.Err() != nil {
			_ = d.transition(StateCancelled)
			return nil, ErrCancelled
		}
		_ = d.transition(StateFailed)
		return nil, fmt.Errorf("failed to resolve artifact download: %w", err)
	}

	result, err := d.fetchBlob(runCtx, req, location, start)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// fetchBlob transfers the redirect target into the partial file and
// promotes it on success.
func (d *Downloader) fetchBlob(ctx context.Context, req Request, location string, start time.Time) (*Result, error) {
	partialPath := req.FinalPath + ".partial"

	// Resume only when the persisted record matches this artifact and
	// the partial file on disk is exactly as long as recorded.
	var offset int64
	if rec := d.LoadResume(); rec != nil && rec.ArtifactID == req.ArtifactID {
		offset = rec.BytesDownloaded
		partialPath = rec.PartialPath
		d.logger.Info("resuming artifact download", "offset", offset, "partial", partialPath)
	}

	if dir := filepath.Dir(partialPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			_ = d.transition(StateFailed)
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	httpReq, err := d.blobRequest(ctx, location)
	if err != nil {
		_ = d.transition(StateFailed)
		return nil, err
	}
	if offset > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.blobClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			_ = d.transition(StateCancelled)
			return nil, ErrCancelled
		}
		_ = d.transition(StateFailed)
		d.discardPartial(partialPath)
		return nil, fmt.Errorf("artifact download request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		// Resuming as requested.
	case resp.StatusCode == http.StatusOK:
		// Upstream ignored the Range header; restart from scratch.
		offset = 0
	default:
		_ = d.transition(StateFailed)
		d.discardPartial(partialPath)
		return nil, fmt.Errorf("artifact download failed: unexpected status %s", resp.Status)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(partialPath, flags, 0644)
	if err != nil {
		_ = d.transition(StateFailed)
		return nil, fmt.Errorf("failed to open partial file: %w", err)
	}

	total := int64(0)
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	d.mu.Lock()
	d.bytesWritten = offset
	d.totalSize = total
	d.mu.Unlock()

	if err := d.transition(StateDownloading); err != nil {
		file.Close()
		return nil, err
	}

	// Write incrementally so an abrupt process death leaves a complete
	// prefix on disk.
	written, copyErr := io.Copy(file, d.progressBody(resp.Body, offset, total))
	flushErr := file.Sync()
	closeErr := file.Close()

	finalBytes := offset + written

	if copyErr != nil {
		if ctx.Err() != nil {
			return nil, d.finishCancelled(req, location, partialPath, finalBytes, total)
		}
		_ = d.transition(StateFailed)
		d.discardPartial(partialPath)
		return nil, fmt.Errorf("failed to write artifact data: %w", copyErr)
	}
	if err := errors.Join(flushErr, closeErr); err != nil {
		_ = d.transition(StateFailed)
		d.discardPartial(partialPath)
		return nil, fmt.Errorf("failed to flush partial file: %w", err)
	}

	// Promote: remove-then-rename, since an atomic replace is not
	// guaranteed on every platform.
	if _, err := os.Stat(req.FinalPath); err == nil {
		_ = os.Remove(req.FinalPath)
	}
	if err := os.Rename(partialPath, req.FinalPath); err != nil {
		_ = d.transition(StateFailed)
		return nil, fmt.Errorf("failed to finalize artifact download: %w", err)
	}
	_ = d.resume.ClearResumeRecord()

	if err := d.transition(StateCompleted); err != nil {
		return nil, err
	}

	d.logger.Info("artifact download complete",
		"path", req.FinalPath, "bytes", finalBytes, "resumed", offset > 0)

	return &Result{
		Path:     req.FinalPath,
		Size:     finalBytes,
		Resumed:  offset > 0,
		Duration: time.Since(start),
	}, nil
}

// finishCancelled handles the cancellation branch: preserve persists
// the resume record and keeps the partial file, otherwise partial
// state is discarded. Either way the caller sees ErrCancelled.
func (d *Downloader) finishCancelled(req Request, location, partialPath string, bytes, total int64) error {
	d.mu.Lock()
	preserve := d.preserve
	d.mu.Unlock()

	if preserve && bytes > 0 {
		rec := &store.ResumeRecord{
			PartialPath:     partialPath,
			FinalPath:       req.FinalPath,
			Owner:           req.Owner,
			Repo:            req.Repo,
			Branch:          req.Branch,
			ArtifactName:    req.ArtifactName,
			ArtifactID:      req.ArtifactID,
			BytesDownloaded: bytes,
			TotalSize:       total,
			DownloadURL:     location,
		}
		if err := d.resume.SaveResumeRecord(rec); err != nil {
			d.logger.Warn("failed to persist resume record", "error", err)
		} else {
			d.logger.Info("preserved partial artifact download",
				"bytes", bytes, "partial", partialPath)
		}
	} else {
		d.discardPartial(partialPath)
	}

	_ = d.transition(StateCancelled)
	return ErrCancelled
}

// DiscardResume deletes the partial file and clears the persisted
// record. Used when the user declines to resume.
func (d *Downloader) DiscardResume() {
	rec, err := d.resume.GetResumeRecord()
	if err == nil && rec.PartialPath != "" {
		_ = os.Remove(rec.PartialPath)
	}
	_ = d.resume.ClearResumeRecord()
}

// Reset returns a terminal-state downloader to Idle for reuse.
func (d *Downloader) Reset() error {
	return d.transition(StateIdle)
}

func (d *Downloader) discardPartial(partialPath string) {
	if partialPath != "" {
		_ = os.Remove(partialPath)
	}
	_ = d.resume.ClearResumeRecord()
}

// blobRequest builds the request for the redirect target. GitHub hosts
// get the standard authenticated headers; anything else (pre-signed
// blob storage) must not see the bearer token.
func (d *Downloader) blobRequest(ctx context.Context, location string) (*http.Request, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid download location: %w", err)
	}
	if ghapi.IsGitHubHost(u) {
		return d.api.NewRequest(ctx, http.MethodGet, location)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", ghapi.UserAgent)
	return req, nil
}

// progressBody wraps the response body with byte accounting and the
// progress callback, both adjusted for the resume offset.
func (d *Downloader) progressBody(body io.Reader, offset, total int64) io.Reader {
	return &progressReader{
		reader: body,
		onRead: func(n int) {
			d.mu.Lock()
			d.bytesWritten += int64(n)
			current := d.bytesWritten
			d.mu.Unlock()
			if d.OnProgress != nil {
				d.OnProgress(current, total)
			}
		},
	}
}

// Progress returns the current byte counts for status display.
func (d *Downloader) Progress() (received, total int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bytesWritten, d.totalSize
}

type progressReader struct {
	reader io.Reader
	onRead func(n int)
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.onRead(n)
	}
	return n, err
}
