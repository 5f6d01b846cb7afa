// Package engine orchestrates candidate discovery across the CDN and
// GitHub sources: it fans a refresh out to every enabled source,
// tracks a pending-response counter per refresh session, merges the
// results into one canonical list, and drives the download-and-inspect
// path for CI artifacts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/laerdal/simimager/internal/download"
	"github.com/laerdal/simimager/internal/ghapi"
	"github.com/laerdal/simimager/internal/inspect"
	"github.com/laerdal/simimager/internal/source"
	"github.com/laerdal/simimager/internal/source/cdn"
	"github.com/laerdal/simimager/internal/source/ci"
	"github.com/laerdal/simimager/internal/store"
)

// SourceFilter selects which origins MergedList returns.
type SourceFilter int

const (
	SourceAll SourceFilter = iota
	SourceCDN
	SourceGitHub
)

// Config wires the aggregator's collaborators.
type Config struct {
	API        *ghapi.Client
	CDN        *cdn.Source
	GitHub     *ci.Source
	Store      *store.Store
	Downloader *download.Downloader
	Inspector  *inspect.Inspector
	CacheDir   string
	Logger     *slog.Logger
}

// Aggregator owns the repository registrations, the CDN environment
// and branch filter selections, and the merged candidate list.
type Aggregator struct {
	api        *ghapi.Client
	cdnSrc     *cdn.Source
	ghSrc      *ci.Source
	store      *store.Store
	downloader *download.Downloader
	inspector  *inspect.Inspector
	cacheDir   string
	logger     *slog.Logger

	// Event hooks, all optional. They are invoked from the goroutine
	// that finished the relevant work, never concurrently per hook.
	OnListReady           func(candidates []source.CandidateImage, status string)
	OnSourceError         func(sourceName string, err error)
	OnDownloadProgress    func(bytesReceived, bytesTotal int64)
	OnRateLimited         func(reset time.Time)
	OnArtifactContents    func(files []inspect.PayloadFile, cachePath string)
	OnInspectionCancelled func()

	mu          sync.Mutex
	env         cdn.Environment
	filter      BranchFilter
	session     *Session
	sessionSeq  int
	cdnList     []source.CandidateImage
	releaseList []source.CandidateImage
	artifactCIs []source.CandidateImage
	inspecting  bool
}

// New creates an aggregator, restoring the persisted environment and
// branch filter selections.
func New(cfg Config) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		api:        cfg.API,
		cdnSrc:     cfg.CDN,
		ghSrc:      cfg.GitHub,
		store:      cfg.Store,
		downloader: cfg.Downloader,
		inspector:  cfg.Inspector,
		cacheDir:   cfg.CacheDir,
		logger:     logger,
		env:        cdn.EnvProduction,
		filter:     DefaultBranches(),
	}

	if envVal, err := cfg.Store.GetSetting(store.SettingEnvironment, string(cdn.EnvProduction)); err == nil {
		if env, perr := cdn.ParseEnvironment(envVal); perr == nil {
			a.env = env
		}
	}
	if filterVal, err := cfg.Store.GetSetting(store.SettingBranchFilter, "default"); err == nil {
		a.filter = decodeBranchFilter(filterVal)
	}

	if a.downloader != nil {
		a.downloader.OnProgress = func(received, total int64) {
			if a.OnDownloadProgress != nil {
				a.OnDownloadProgress(received, total)
			}
		}
	}
	if a.api != nil {
		a.api.OnRateLimited = func(reset time.Time) {
			if a.OnRateLimited != nil {
				a.OnRateLimited(reset)
			}
		}
	}
	return a
}

// Environment returns the selected CDN environment.
func (a *Aggregator) Environment() cdn.Environment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.env
}

// SetEnvironment selects and persists the CDN environment.
func (a *Aggregator) SetEnvironment(env cdn.Environment) error {
	a.mu.Lock()
	a.env = env
	a.mu.Unlock()
	return a.store.SetSetting(store.SettingEnvironment, string(env))
}

// Filter returns the current branch filter.
func (a *Aggregator) Filter() BranchFilter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.filter
}

// RefreshAll issues one request per source leg: the CDN manifest, and
// per enabled repository a release search plus, unless the filter is
// releases-only, an artifact search. The returned session completes
// after every leg has responded, success or error.
func (a *Aggregator) RefreshAll(ctx context.Context) (*Session, error) {
	repos, err := a.store.EnabledRepos()
	if err != nil {
		return nil, fmt.Errorf("loading repository registrations: %w", err)
	}

	a.mu.Lock()
	env := a.env
	filter := a.filter
	a.mu.Unlock()

	expected := 1 // CDN leg
	type artifactLeg struct {
		owner, repo, branch string
	}
	var artifactLegs []artifactLeg
	for _, r := range repos {
		expected++ // release leg
		if branch := filter.branchFor(r.DefaultBranch); branch != "" {
			artifactLegs = append(artifactLegs, artifactLeg{r.Owner, r.Repo, branch})
			expected++
		}
	}

	sess := a.beginSession(expected, false)
	a.logger.Debug("refresh started",
		"session", sess.id, "repos", len(repos), "expected_responses", expected)

	go func() {
		list, err := a.cdnSrc.FetchList(ctx, env)
		a.finishLeg(sess, "cdn", err, func(s *Session) {
			s.cdn = append(s.cdn, list...)
		}, len(repos))
	}()

	for _, r := range repos {
		go func(owner, repo string) {
			list, err := a.ghSrc.SearchReleases(ctx, owner, repo)
			a.finishLeg(sess, owner+"/"+repo, err, func(s *Session) {
				s.releases = append(s.releases, list...)
			}, len(repos))
		}(r.Owner, r.Repo)
	}
	for _, leg := range artifactLegs {
		go func(owner, repo, branch string) {
			list, err := a.ghSrc.SearchArtifacts(ctx, owner, repo, branch)
			a.finishLeg(sess, owner+"/"+repo, err, func(s *Session) {
				s.artifacts = append(s.artifacts, list...)
			}, len(repos))
		}(leg.owner, leg.repo, leg.branch)
	}

	return sess, nil
}

// SetBranchFilter persists the new filter, drops the artifact-origin
// candidates, and re-issues only the artifact search legs. Release and
// CDN candidates are retained untouched.
func (a *Aggregator) SetBranchFilter(ctx context.Context, f BranchFilter) (*Session, error) {
	if err := a.store.SetSetting(store.SettingBranchFilter, encodeBranchFilter(f)); err != nil {
		return nil, fmt.Errorf("persisting branch filter: %w", err)
	}

	repos, err := a.store.EnabledRepos()
	if err != nil {
		return nil, fmt.Errorf("loading repository registrations: %w", err)
	}

	a.mu.Lock()
	a.filter = f
	a.artifactCIs = nil
	a.mu.Unlock()

	type artifactLeg struct {
		owner, repo, branch string
	}
	var legs []artifactLeg
	for _, r := range repos {
		if branch := f.branchFor(r.DefaultBranch); branch != "" {
			legs = append(legs, artifactLeg{r.Owner, r.Repo, branch})
		}
	}

	sess := a.beginSession(len(legs), true)
	if len(legs) == 0 {
		a.complete(sess, len(repos))
		return sess, nil
	}

	for _, leg := range legs {
		go func(owner, repo, branch string) {
			list, err := a.ghSrc.SearchArtifacts(ctx, owner, repo, branch)
			a.finishLeg(sess, owner+"/"+repo, err, func(s *Session) {
				s.artifacts = append(s.artifacts, list...)
			}, len(repos))
		}(leg.owner, leg.repo, leg.branch)
	}
	return sess, nil
}

// beginSession installs a new current session, superseding any prior
// one. The superseded session's in-flight legs drain harmlessly.
func (a *Aggregator) beginSession(expected int, artifactOnly bool) *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessionSeq++
	sess := newSession(a.sessionSeq, expected, artifactOnly)
	a.session = sess
	return sess
}

// finishLeg accounts one response on its session and completes the
// session when it was the last one outstanding.
func (a *Aggregator) finishLeg(sess *Session, name string, err error, record func(*Session), repoCount int) {
	var apply func(*Session)
	if err != nil {
		a.logger.Warn("source request failed", "source", name, "error", err)
		if a.OnSourceError != nil {
			a.OnSourceError(name, err)
		}
		apply = func(s *Session) { s.errs++ }
	} else {
		apply = record
	}
	if sess.account(apply) {
		a.complete(sess, repoCount)
	}
}

// complete publishes a finished session's results if it is still the
// current one; a superseded session only has its Done channel closed.
func (a *Aggregator) complete(sess *Session, repoCount int) {
	a.mu.Lock()
	current := a.session == sess
	if current {
		sess.mu.Lock()
		if !sess.artifactOnly {
			a.cdnList = sess.cdn
			a.releaseList = sess.releases
		}
		a.artifactCIs = sess.artifacts
		sess.mu.Unlock()
	}
	a.mu.Unlock()

	close(sess.done)

	if !current {
		a.logger.Debug("superseded session drained", "session", sess.id)
		return
	}

	sess.mu.Lock()
	artifactCount := len(sess.artifacts)
	sess.mu.Unlock()

	status := statusMessage(repoCount, artifactCount)
	a.logger.Info("refresh complete", "session", sess.id, "status", status)
	if a.OnListReady != nil {
		a.OnListReady(a.MergedList(SourceAll), status)
	}
}

// statusMessage summarizes the artifact search outcome.
func statusMessage(enabledRepos, artifactCount int) string {
	if enabledRepos == 0 {
		return "No GitHub repositories enabled"
	}
	if artifactCount > 0 {
		return fmt.Sprintf("%d CI build(s) found", artifactCount)
	}
	return "No CI builds found for selected repositories"
}

// MergedList returns the current candidates for the selected origins.
// GitHub entries are sorted by release date descending; CDN entries
// keep manifest order.
func (a *Aggregator) MergedList(sel SourceFilter) []source.CandidateImage {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []source.CandidateImage
	if sel == SourceAll || sel == SourceCDN {
		out = append(out, a.cdnList...)
	}
	if sel == SourceAll || sel == SourceGitHub {
		github := make([]source.CandidateImage, 0, len(a.releaseList)+len(a.artifactCIs))
		github = append(github, a.releaseList...)
		github = append(github, a.artifactCIs...)
		sort.SliceStable(github, func(i, j int) bool {
			return github[i].ReleaseDate.After(github[j].ReleaseDate)
		})
		out = append(out, github...)
	}
	return out
}

// AddRepo registers a repository with an explicit default branch.
func (a *Aggregator) AddRepo(owner, repo, defaultBranch string) error {
	return a.store.AddRepo(&store.RepoRegistration{
		Owner:         owner,
		Repo:          repo,
		DefaultBranch: defaultBranch,
		Enabled:       true,
	})
}

// AddRepoAutoDetect registers a repository, resolving its default
// branch from the API. Resolution failure falls back to "main" so an
// offline add still succeeds.
func (a *Aggregator) AddRepoAutoDetect(ctx context.Context, owner, repo string) error {
	branch := "main"
	if info, err := a.api.GetRepo(ctx, owner, repo); err == nil && info.DefaultBranch != "" {
		branch = info.DefaultBranch
	} else if err != nil {
		a.logger.Warn("default branch detection failed, using main",
			"repo", owner+"/"+repo, "error", err)
	}
	return a.AddRepo(owner, repo, branch)
}

// RemoveRepo deletes a registration.
func (a *Aggregator) RemoveRepo(owner, repo string) error {
	return a.store.RemoveRepo(owner, repo)
}

// SetRepoEnabled toggles a registration.
func (a *Aggregator) SetRepoEnabled(owner, repo string, enabled bool) error {
	return a.store.SetRepoEnabled(owner, repo, enabled)
}

// ListRepos returns all registrations.
func (a *Aggregator) ListRepos() ([]store.RepoRegistration, error) {
	return a.store.ListRepos()
}

// RateLimit queries the current API quota.
func (a *Aggregator) RateLimit(ctx context.Context) (*ghapi.RateLimit, error) {
	return a.api.CheckRateLimit(ctx)
}
