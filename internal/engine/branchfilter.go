package engine

import "strings"

// BranchFilterKind discriminates the branch filter variants.
type BranchFilterKind int

const (
	// FilterDefaultBranches searches each repository's default branch.
	FilterDefaultBranches BranchFilterKind = iota
	// FilterBranch searches one named branch or tag across all repos.
	FilterBranch
	// FilterReleasesOnly skips the CI artifact search entirely.
	FilterReleasesOnly
)

// BranchFilter selects which CI builds the artifact search covers.
// It is a tagged union: Name is only meaningful for FilterBranch.
type BranchFilter struct {
	Kind BranchFilterKind
	Name string
}

// DefaultBranches filters to each repository's default branch.
func DefaultBranches() BranchFilter {
	return BranchFilter{Kind: FilterDefaultBranches}
}

// Branch filters to one named branch or tag.
func Branch(name string) BranchFilter {
	return BranchFilter{Kind: FilterBranch, Name: name}
}

// ReleasesOnly disables the artifact search, keeping only releases.
func ReleasesOnly() BranchFilter {
	return BranchFilter{Kind: FilterReleasesOnly}
}

func (f BranchFilter) String() string {
	switch f.Kind {
	case FilterBranch:
		return f.Name
	case FilterReleasesOnly:
		return "releases only"
	default:
		return "default branches"
	}
}

// branchFor resolves the branch the artifact search should use for a
// repository with the given default branch. The empty string means
// "do not search artifacts".
func (f BranchFilter) branchFor(defaultBranch string) string {
	switch f.Kind {
	case FilterBranch:
		return f.Name
	case FilterReleasesOnly:
		return ""
	default:
		if defaultBranch == "" {
			return "main"
		}
		return defaultBranch
	}
}

// encodeBranchFilter serializes a filter for the settings store.
func encodeBranchFilter(f BranchFilter) string {
	switch f.Kind {
	case FilterBranch:
		return "branch:" + f.Name
	case FilterReleasesOnly:
		return "releases-only"
	default:
		return "default"
	}
}

// decodeBranchFilter parses a persisted filter value. Unknown values
// fall back to the default filter rather than failing.
func decodeBranchFilter(s string) BranchFilter {
	switch {
	case s == "releases-only":
		return ReleasesOnly()
	case strings.HasPrefix(s, "branch:"):
		name := strings.TrimPrefix(s, "branch:")
		if name == "" {
			return DefaultBranches()
		}
		return Branch(name)
	default:
		return DefaultBranches()
	}
}
