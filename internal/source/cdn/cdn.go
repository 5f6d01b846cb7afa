// Package cdn fetches the vendor CDN factory-image manifest and
// normalizes it to candidate images.
package cdn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/laerdal/simimager/internal/safety"
	"github.com/laerdal/simimager/internal/source"
)

// Environment selects which CDN manifest variant is fetched.
type Environment string

const (
	EnvProduction       Environment = "production"
	EnvTest             Environment = "test"
	EnvDev              Environment = "dev"
	EnvBeta             Environment = "beta"
	EnvReleaseCandidate Environment = "release-candidate"
)

// Environments lists all selectable environments in display order.
func Environments() []Environment {
	return []Environment{EnvProduction, EnvTest, EnvDev, EnvBeta, EnvReleaseCandidate}
}

// ParseEnvironment maps a user-supplied name to an Environment.
func ParseEnvironment(name string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "production", "prod", "release":
		return EnvProduction, nil
	case "test":
		return EnvTest, nil
	case "dev", "development":
		return EnvDev, nil
	case "beta":
		return EnvBeta, nil
	case "release-candidate", "rc":
		return EnvReleaseCandidate, nil
	}
	return "", fmt.Errorf("unknown environment %q", name)
}

const (
	defaultBaseURL  = "https://laerdalcdn.blob.core.windows.net/software"
	manifestPath    = "SimPad/factory-images/images.json"
	fetchTimeout    = 30 * time.Second
	maxManifestSize = 8 * 1024 * 1024
)

// urlSegment maps an environment to its path segment. Test and Beta
// share the test manifest.
func urlSegment(env Environment) string {
	switch env {
	case EnvTest, EnvBeta:
		return "test"
	case EnvDev:
		return "dev"
	case EnvReleaseCandidate:
		return "release-candidate"
	default:
		return "release"
	}
}

// Source fetches and parses the CDN manifest.
type Source struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a CDN source against the production base URL.
func New(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		baseURL:    defaultBaseURL,
		httpClient: safety.NewHTTPClient(fetchTimeout),
		logger:     logger,
	}
}

// SetBaseURL overrides the CDN base, used by tests.
func (s *Source) SetBaseURL(base string) {
	s.baseURL = strings.TrimRight(base, "/")
}

// ManifestURL returns the manifest location for an environment.
func (s *Source) ManifestURL(env Environment) string {
	return fmt.Sprintf("%s/%s/%s", s.baseURL, urlSegment(env), manifestPath)
}

// manifest is the vendor document shape: a single "updates" array.
type manifest struct {
	Updates []update `json:"updates"`
}

type update struct {
	SimpadType        string  `json:"simpadtype"`
	Version           string  `json:"version"`
	URL               string  `json:"url"`
	MD5               string  `json:"md5"`
	Info              string  `json:"info"`
	ReleaseNotes      string  `json:"releasenotes"`
	ReleaseDate       string  `json:"release_date"`
	ImageDownloadSize float64 `json:"image_download_size"`
	ExtractSize       float64 `json:"extract_size"`
}

// FetchList retrieves and normalizes the manifest for env. One fetch
// per call; the caller decides when to refresh, there is no retry.
func (s *Source) FetchList(ctx context.Context, env Environment) ([]source.CandidateImage, error) {
	urlStr := s.ManifestURL(env)
	s.logger.Debug("fetching CDN manifest", "url", urlStr, "environment", env)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "simimager/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch CDN list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch CDN list: unexpected status %s", resp.Status)
	}

	data, err := safety.ReadAllWithLimit(resp.Body, maxManifestSize)
	if err != nil {
		return nil, fmt.Errorf("reading CDN response: %w", err)
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid JSON response from CDN: %w", err)
	}

	candidates := make([]source.CandidateImage, 0, len(m.Updates))
	for _, u := range m.Updates {
		candidates = append(candidates, convertUpdate(u))
	}

	s.logger.Debug("parsed CDN manifest", "entries", len(candidates))
	return candidates, nil
}

func convertUpdate(u update) source.CandidateImage {
	desc := u.Info
	if desc == "" {
		desc = u.ReleaseNotes
	}

	tag := mapSimpadTypeToTag(u.SimpadType)

	var released time.Time
	if u.ReleaseDate != "" {
		if t, err := time.Parse(time.RFC3339, u.ReleaseDate); err == nil {
			released = t
		}
	}

	return source.CandidateImage{
		Name:        displayName(u.SimpadType, u.Version),
		Description: desc,
		DeviceTags:  []string{tag},
		IconRef:     iconForType(u.SimpadType),
		ReleaseDate: released,
		Origin:      source.OriginCDN,
		DownloadURL: u.URL,
		SizeBytes:   int64(u.ImageDownloadSize),
		ContentHash: u.MD5,
	}
}

// mapSimpadTypeToTag maps the vendor device-type code to the canonical
// device tag used for filtering.
func mapSimpadTypeToTag(simpadType string) string {
	t := strings.ToLower(simpadType)
	switch {
	case t == "plus" || t == "imx6":
		return "imx6"
	case t == "plus2" || t == "imx8":
		return "imx8"
	case strings.Contains(t, "simman") && strings.Contains(t, "32"):
		return "simman3g-32"
	case strings.Contains(t, "simman") && strings.Contains(t, "64"):
		return "simman3g-64"
	}
	return t
}

func iconForType(simpadType string) string {
	t := strings.ToLower(simpadType)
	switch {
	case strings.Contains(t, "plus2") || strings.Contains(t, "imx8"):
		return source.IconSimPadPlus2
	case strings.Contains(t, "plus") || strings.Contains(t, "imx6"):
		return source.IconSimPadPlus
	case strings.Contains(t, "simman"):
		return source.IconSimMan3G
	}
	return source.IconCustom
}

func displayName(simpadType, version string) string {
	t := strings.ToLower(simpadType)
	var device string
	switch {
	case t == "plus" || t == "imx6":
		device = "SimPad Plus"
	case t == "plus2" || t == "imx8":
		device = "SimPad Plus 2"
	case strings.Contains(t, "simman") && strings.Contains(t, "32"):
		device = "SimMan 3G (32-bit)"
	case strings.Contains(t, "simman") && strings.Contains(t, "64"):
		device = "SimMan 3G (64-bit)"
	default:
		device = capitalize(simpadType)
	}
	return fmt.Sprintf("%s v%s", device, version)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
