package source

import (
	"fmt"
	"strings"
	"time"
)

// Origin identifies which upstream produced a candidate image.
type Origin string

const (
	OriginCDN            Origin = "cdn"
	OriginGitHubRelease  Origin = "github_release"
	OriginGitHubArtifact Origin = "github_artifact"
)

// CandidateImage is the canonical record every adapter normalizes to.
// Origin determines which of the optional field groups is populated:
// CDN and release candidates carry a direct DownloadURL; artifact
// candidates carry the artifact coordinates needed for the redirect
// download flow instead.
type CandidateImage struct {
	Name        string
	Description string
	DeviceTags  []string
	IconRef     string
	ReleaseDate time.Time
	Origin      Origin

	// CDN / GitHubRelease
	DownloadURL string
	SizeBytes   int64
	ContentHash string // vendor checksum when supplied (CDN uses MD5)

	// GitHubRelease only
	Prerelease  bool
	ReleaseName string
	Tag         string

	// GitHubArtifact only
	ArtifactID   int64
	Owner        string
	Repo         string
	Branch       string
	RunCreatedAt time.Time
}

// IsArtifact reports whether the candidate must be fetched through the
// artifact redirect flow rather than a direct URL.
func (c *CandidateImage) IsArtifact() bool {
	return c.Origin == OriginGitHubArtifact
}

// Key returns a stable identity for deduplication across refreshes.
func (c *CandidateImage) Key() string {
	if c.IsArtifact() {
		return fmt.Sprintf("%s/%s#artifact:%d", c.Owner, c.Repo, c.ArtifactID)
	}
	return string(c.Origin) + ":" + c.DownloadURL
}

// Icon references understood by the UI layer.
const (
	IconSimPadPlus  = "simpad_plus"
	IconSimPadPlus2 = "simpad_plus2"
	IconSimMan3G    = "simman3g"
	IconCustom      = "use_custom"
)

// deviceToken maps a filename substring to a device tag. Longer tokens
// are listed before their prefixes (linkbox2 before linkbox) so the
// first match wins correctly.
type deviceToken struct {
	token string
	tag   string
	icon  string
}

var deviceTokens = []deviceToken{
	{"simman3g-64", "simman3g-64", IconSimMan3G},
	{"simman-64", "simman3g-64", IconSimMan3G},
	{"simman3g-32", "simman3g-32", IconSimMan3G},
	{"simman-32", "simman3g-32", IconSimMan3G},
	{"imx8", "imx8", IconSimPadPlus2},
	{"imx6", "imx6", IconSimPadPlus},
	{"linkbox2", "linkbox2", IconCustom},
	{"linkbox", "linkbox", IconCustom},
	{"cancpu2", "cancpu2", IconCustom},
	{"cancpu", "cancpu", IconCustom},
}

// ClassifyDevices matches a candidate or artifact name against the
// device token table. An empty result means platform-independent: the
// UI shows the image for every device.
func ClassifyDevices(name string) []string {
	lower := strings.ToLower(name)
	for _, dt := range deviceTokens {
		if strings.Contains(lower, dt.token) {
			return []string{dt.tag}
		}
	}
	return nil
}

// IconForName picks the device-family icon for a candidate name,
// falling back to the generic icon for unmatched names.
func IconForName(name string) string {
	lower := strings.ToLower(name)
	for _, dt := range deviceTokens {
		if strings.Contains(lower, dt.token) {
			return dt.icon
		}
	}
	return IconCustom
}

// MatchesDevice reports whether the candidate should be offered for
// the given device tag. Candidates with no tags match everything.
func (c *CandidateImage) MatchesDevice(tag string) bool {
	if len(c.DeviceTags) == 0 {
		return true
	}
	for _, t := range c.DeviceTags {
		if t == tag {
			return true
		}
	}
	return false
}
