package engine

import (
	"context"
	"sort"
	"time"
)

// branchFetchTimeout bounds the whole branch/tag listing pass. Slow or
// unreachable repositories must not stall the selection UI; whatever
// arrived by the deadline is returned.
const branchFetchTimeout = 15 * time.Second

// RepoRefs is the branch and tag listing for one repository.
type RepoRefs struct {
	Owner    string
	Repo     string
	Branches []string
	Tags     []string
}

// FetchBranches lists branches and tags for every enabled repository
// concurrently. The result is sorted by repository name and may be
// partial when the deadline expires; a per-repo failure drops that
// repository from the result rather than failing the call.
func (a *Aggregator) FetchBranches(ctx context.Context) ([]RepoRefs, error) {
	repos, err := a.store.EnabledRepos()
	if err != nil {
		return nil, err
	}
	if len(repos) == 0 {
		return nil, nil
	}

	fctx, cancel := context.WithTimeout(ctx, branchFetchTimeout)
	defer cancel()

	type refsResult struct {
		refs RepoRefs
		ok   bool
	}
	results := make(chan refsResult, len(repos))
	for _, r := range repos {
		go func(owner, repo string) {
			refs := RepoRefs{Owner: owner, Repo: repo}
			branches, berr := a.api.ListBranches(fctx, owner, repo)
			if berr != nil {
				a.logger.Warn("branch listing failed", "repo", owner+"/"+repo, "error", berr)
				results <- refsResult{}
				return
			}
			refs.Branches = branches
			if tags, terr := a.api.ListTags(fctx, owner, repo); terr == nil {
				refs.Tags = tags
			} else {
				a.logger.Warn("tag listing failed", "repo", owner+"/"+repo, "error", terr)
			}
			results <- refsResult{refs: refs, ok: true}
		}(r.Owner, r.Repo)
	}

	var out []RepoRefs
	for range repos {
		select {
		case res := <-results:
			if res.ok {
				out = append(out, res.refs)
			}
		case <-fctx.Done():
			a.logger.Warn("branch fetch deadline reached", "collected", len(out), "repos", len(repos))
			sortRefs(out)
			return out, nil
		}
	}
	sortRefs(out)
	return out, nil
}

func sortRefs(refs []RepoRefs) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Owner != refs[j].Owner {
			return refs[i].Owner < refs[j].Owner
		}
		return refs[i].Repo < refs[j].Repo
	})
}
