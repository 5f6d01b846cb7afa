// Package ci discovers candidate firmware images on GitHub, via two
// independent paths: release assets and CI workflow-run artifacts.
package ci

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/laerdal/simimager/internal/ghapi"
	"github.com/laerdal/simimager/internal/source"
)

// runSearchPageSize bounds how many workflow runs one artifact search
// inspects; older runs usually hold expired artifacts anyway.
const runSearchPageSize = 30

// Source adapts the GitHub API client to the canonical candidate shape.
type Source struct {
	api    *ghapi.Client
	logger *slog.Logger
}

// New creates a GitHub source backed by the given API client.
func New(api *ghapi.Client, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{api: api, logger: logger}
}

// SearchReleases lists a repository's releases and returns one
// candidate per asset whose filename carries a payload suffix.
func (s *Source) SearchReleases(ctx context.Context, owner, repo string) ([]source.CandidateImage, error) {
	releases, err := s.api.ListReleases(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	var candidates []source.CandidateImage
	for _, rel := range releases {
		for _, asset := range rel.Assets {
			if _, ok := source.MatchPayloadKind(asset.Name); !ok {
				continue
			}
			candidates = append(candidates, source.CandidateImage{
				Name:        asset.Name,
				Description: fmt.Sprintf("%s/%s - Release: %s", owner, repo, rel.Name),
				DeviceTags:  source.ClassifyDevices(asset.Name),
				IconRef:     source.IconForName(asset.Name),
				ReleaseDate: rel.PublishedAt,
				Origin:      source.OriginGitHubRelease,
				DownloadURL: asset.BrowserDownloadURL,
				SizeBytes:   asset.Size,
				Prerelease:  rel.Prerelease,
				ReleaseName: rel.Name,
				Tag:         rel.TagName,
				Owner:       owner,
				Repo:        repo,
			})
		}
	}

	s.logger.Debug("release search complete", "repo", owner+"/"+repo, "candidates", len(candidates))
	return candidates, nil
}

// runResult pairs one run's filtered artifacts with its fetch error.
type runResult struct {
	index      int
	candidates []source.CandidateImage
	err        error
}

// SearchArtifacts lists successful workflow runs (optionally filtered
// by branch) and fans out one artifact-list request per run. A failed
// run fetch is logged and skipped; it never blocks the aggregate
// result, which is returned once every run has been accounted for.
func (s *Source) SearchArtifacts(ctx context.Context, owner, repo, branch string) ([]source.CandidateImage, error) {
	runs, err := s.api.ListWorkflowRuns(ctx, owner, repo, branch, "success", runSearchPageSize)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		s.logger.Debug("no workflow runs found", "repo", owner+"/"+repo, "branch", branch)
		return nil, nil
	}

	results := make(chan runResult, len(runs))
	for i, run := range runs {
		go func(i int, run ghapi.WorkflowRun) {
			artifacts, err := s.api.ListRunArtifacts(ctx, owner, repo, run.ID)
			if err != nil {
				results <- runResult{index: i, err: err}
				return
			}
			results <- runResult{index: i, candidates: s.filterArtifacts(artifacts, owner, repo, run)}
		}(i, run)
	}

	// Collect exactly one result per run, error or not. Ordering of
	// arrival is irrelevant; output order follows run order.
	perRun := make([][]source.CandidateImage, len(runs))
	for range runs {
		res := <-results
		if res.err != nil {
			s.logger.Warn("artifact list fetch failed",
				"repo", owner+"/"+repo, "run", runs[res.index].ID, "error", res.err)
			continue
		}
		perRun[res.index] = res.candidates
	}

	var candidates []source.CandidateImage
	for _, list := range perRun {
		candidates = append(candidates, list...)
	}

	s.logger.Debug("artifact search complete",
		"repo", owner+"/"+repo, "branch", branch, "runs", len(runs), "candidates", len(candidates))
	return candidates, nil
}

// filterArtifacts keeps non-expired artifacts whose name suggests
// payload content, normalized to candidates.
func (s *Source) filterArtifacts(artifacts []ghapi.Artifact, owner, repo string, run ghapi.WorkflowRun) []source.CandidateImage {
	var out []source.CandidateImage
	for _, a := range artifacts {
		if a.Expired {
			continue
		}
		if !source.IsPayloadArtifactName(a.Name) {
			continue
		}
		out = append(out, source.CandidateImage{
			Name:         a.Name,
			Description:  fmt.Sprintf("%s/%s - Branch: %s", owner, repo, run.HeadBranch),
			DeviceTags:   source.ClassifyDevices(a.Name),
			IconRef:      source.IconForName(a.Name),
			ReleaseDate:  run.CreatedAt,
			Origin:       source.OriginGitHubArtifact,
			SizeBytes:    a.SizeInBytes,
			ArtifactID:   a.ID,
			Owner:        owner,
			Repo:         repo,
			Branch:       run.HeadBranch,
			RunCreatedAt: run.CreatedAt,
		})
	}
	return out
}
