package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/laerdal/simimager/internal/auth"
	"github.com/laerdal/simimager/internal/download"
	"github.com/laerdal/simimager/internal/ghapi"
	"github.com/laerdal/simimager/internal/inspect"
	"github.com/laerdal/simimager/internal/source"
	"github.com/laerdal/simimager/internal/source/cdn"
	"github.com/laerdal/simimager/internal/source/ci"
	"github.com/laerdal/simimager/internal/store"
)

func zipBytes(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func emptyCDN(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"updates":[]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAggregator(t *testing.T, apiURL, cdnURL string) *Aggregator {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "state.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	api := ghapi.NewClient(auth.StaticToken("test-token"), nil)
	api.SetBaseURL(apiURL)
	cdnSrc := cdn.New(nil)
	cdnSrc.SetBaseURL(cdnURL)

	return New(Config{
		API:        api,
		CDN:        cdnSrc,
		GitHub:     ci.New(api, nil),
		Store:      st,
		Downloader: download.NewDownloader(api, st, nil),
		Inspector:  inspect.New(nil),
		CacheDir:   t.TempDir(),
	})
}

func TestRefreshCompletesExactlyOnce(t *testing.T) {
	// Responses arrive in random order with a mix of successes and
	// failures; completion must fire exactly once per refresh.
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
		switch {
		case strings.HasSuffix(r.URL.Path, "/releases"):
			if strings.Contains(r.URL.Path, "/broken/") {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `[]`)
		case strings.HasSuffix(r.URL.Path, "/actions/runs"):
			fmt.Fprint(w, `{"total_count":0,"workflow_runs":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer api.Close()
	cdnSrv := emptyCDN(t)

	agg := newTestAggregator(t, api.URL, cdnSrv.URL)
	for _, repo := range []string{"firmware", "broken", "tools"} {
		if err := agg.AddRepo("acme", repo, "main"); err != nil {
			t.Fatal(err)
		}
	}

	var fired atomic.Int32
	agg.OnListReady = func([]source.CandidateImage, string) {
		fired.Add(1)
	}

	for i := 1; i <= 5; i++ {
		sess, err := agg.RefreshAll(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if err := sess.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
		// Completion is signaled after the last accounting, but the
		// hook runs on the finishing goroutine.
		deadline := time.Now().Add(time.Second)
		for fired.Load() != int32(i) && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		if got := fired.Load(); got != int32(i) {
			t.Fatalf("after refresh %d: completion fired %d times", i, got)
		}
	}
}

func TestRefreshStatusNoReposEnabled(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer api.Close()
	cdnSrv := emptyCDN(t)

	agg := newTestAggregator(t, api.URL, cdnSrv.URL)

	statusCh := make(chan string, 1)
	agg.OnListReady = func(_ []source.CandidateImage, status string) {
		statusCh <- status
	}

	sess, err := agg.RefreshAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	select {
	case status := <-statusCh:
		if status != "No GitHub repositories enabled" {
			t.Errorf("status = %q", status)
		}
	case <-time.After(time.Second):
		t.Fatal("completion hook never fired")
	}
}

func TestSupersededRefreshDoesNotPublish(t *testing.T) {
	release := make(chan struct{})
	firstArrived := make(chan struct{})
	var requests atomic.Int32

	// First CDN fetch blocks until released; the second returns at
	// once, so the second session completes while the first is still
	// in flight.
	cdnSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			close(firstArrived)
			<-release
		}
		fmt.Fprint(w, `{"updates":[{"simpadtype":"plus2","version":"2.0.0","url":"https://example.invalid/img","image_download_size":1000}]}`)
	}))
	defer cdnSrv.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer api.Close()

	agg := newTestAggregator(t, api.URL, cdnSrv.URL)

	var fired atomic.Int32
	agg.OnListReady = func([]source.CandidateImage, string) {
		fired.Add(1)
	}

	first, err := agg.RefreshAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	<-firstArrived
	second, err := agg.RefreshAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := second.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	close(release)
	if err := first.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for fired.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	if got := fired.Load(); got != 1 {
		t.Errorf("completion fired %d times, want 1 (stale session must not publish)", got)
	}
	if got := len(agg.MergedList(SourceCDN)); got != 1 {
		t.Errorf("merged CDN list has %d entries, want 1", got)
	}
}

// githubFixture serves a fixed acme/firmware repository with one
// successful run on main producing one spu artifact.
func githubFixture(t *testing.T, artifactZip []byte) *httptest.Server {
	t.Helper()
	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC).Format(time.RFC3339)
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/firmware/releases", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	mux.HandleFunc("/repos/acme/firmware/actions/runs", func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("branch"); got != "main" {
			t.Errorf("runs queried with branch=%q, want main", got)
		}
		if got := r.URL.Query().Get("status"); got != "success" {
			t.Errorf("runs queried with status=%q, want success", got)
		}
		fmt.Fprintf(w, `{"total_count":1,"workflow_runs":[{"id":900,"head_branch":"main","status":"completed","created_at":%q}]}`, created)
	})
	mux.HandleFunc("/repos/acme/firmware/actions/runs/900/artifacts", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"total_count":1,"artifacts":[{"id":555,"name":"build-artifacts-spu-v1.2.3.zip","size_in_bytes":2400000,"expired":false,"created_at":%q}]}`, created)
	})

	blob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(artifactZip)
	}))
	t.Cleanup(blob.Close)
	mux.HandleFunc("/repos/acme/firmware/actions/artifacts/555/zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", blob.URL+"/signed-blob")
		w.WriteHeader(http.StatusFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestArtifactSearchAndInspection(t *testing.T) {
	artifactZip := zipBytes(t, map[string][]byte{
		"image.imx6.spu": []byte("spu payload data"),
		"notes.txt":      []byte("notes"),
	})
	api := githubFixture(t, artifactZip)
	cdnSrv := emptyCDN(t)

	agg := newTestAggregator(t, api.URL, cdnSrv.URL)
	if err := agg.AddRepo("acme", "firmware", "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := agg.SetBranchFilter(context.Background(), Branch("main")); err != nil {
		t.Fatal(err)
	}

	sess, err := agg.RefreshAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	list := agg.MergedList(SourceGitHub)
	if len(list) != 1 {
		t.Fatalf("merged list has %d candidates, want 1: %+v", len(list), list)
	}
	cand := list[0]
	if cand.Origin != source.OriginGitHubArtifact {
		t.Errorf("origin = %v", cand.Origin)
	}
	if cand.Name != "build-artifacts-spu-v1.2.3.zip" {
		t.Errorf("name = %q", cand.Name)
	}
	if cand.ArtifactID != 555 {
		t.Errorf("artifact id = %d", cand.ArtifactID)
	}

	files, cachePath, err := agg.InspectArtifact(context.Background(), cand)
	if err != nil {
		t.Fatalf("InspectArtifact: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("inspection found %d payload files, want 1: %+v", len(files), files)
	}
	if files[0].Kind != source.KindSPU {
		t.Errorf("kind = %v, want spu", files[0].Kind)
	}
	if files[0].EntryPath != "image.imx6.spu" {
		t.Errorf("entry path = %q", files[0].EntryPath)
	}
	if want := agg.CachePathFor(555); cachePath != want {
		t.Errorf("cache path = %q, want %q", cachePath, want)
	}
	if _, err := os.Stat(cachePath); err != nil {
		t.Errorf("cache file missing: %v", err)
	}
}

func TestInspectArtifactRevalidatesStaleCache(t *testing.T) {
	goodZip := zipBytes(t, map[string][]byte{"image.imx6.spu": []byte("payload")})
	api := githubFixture(t, goodZip)
	cdnSrv := emptyCDN(t)

	agg := newTestAggregator(t, api.URL, cdnSrv.URL)

	// Seed the cache with an archive that has no payload files.
	stale := zipBytes(t, map[string][]byte{"readme.txt": []byte("nothing useful")})
	cachePath := agg.CachePathFor(555)
	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cachePath, stale, 0644); err != nil {
		t.Fatal(err)
	}

	cand := source.CandidateImage{
		Name:       "build-artifacts-spu-v1.2.3.zip",
		Origin:     source.OriginGitHubArtifact,
		ArtifactID: 555,
		Owner:      "acme",
		Repo:       "firmware",
		Branch:     "main",
	}

	files, _, err := agg.InspectArtifact(context.Background(), cand)
	if err != nil {
		t.Fatalf("InspectArtifact: %v", err)
	}
	if len(files) != 1 || files[0].Kind != source.KindSPU {
		t.Fatalf("stale cache was not replaced, got %+v", files)
	}

	// The cache file must now be the freshly downloaded archive.
	got, err := os.ReadFile(cachePath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, goodZip) {
		t.Error("cache file was not replaced with the fresh download")
	}
}

func TestInspectArtifactUsesValidCache(t *testing.T) {
	// API server that fails every request: a valid cache entry must be
	// served without any network traffic.
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected API request %s", r.URL.Path)
		http.NotFound(w, r)
	}))
	defer api.Close()
	cdnSrv := emptyCDN(t)

	agg := newTestAggregator(t, api.URL, cdnSrv.URL)

	cached := zipBytes(t, map[string][]byte{"core-image.imx8.wic.gz": []byte("wic")})
	cachePath := agg.CachePathFor(42)
	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cachePath, cached, 0644); err != nil {
		t.Fatal(err)
	}

	files, gotPath, err := agg.InspectArtifact(context.Background(), source.CandidateImage{
		Name:       "build-artifacts",
		Origin:     source.OriginGitHubArtifact,
		ArtifactID: 42,
		Owner:      "acme",
		Repo:       "firmware",
	})
	if err != nil {
		t.Fatalf("InspectArtifact: %v", err)
	}
	if len(files) != 1 || files[0].Kind != source.KindWIC {
		t.Fatalf("cached inspection returned %+v", files)
	}
	if gotPath != cachePath {
		t.Errorf("cache path = %q, want %q", gotPath, cachePath)
	}
}

func TestBranchFilterRoundTrip(t *testing.T) {
	cases := []BranchFilter{
		DefaultBranches(),
		Branch("release/2.x"),
		ReleasesOnly(),
	}
	for _, f := range cases {
		if got := decodeBranchFilter(encodeBranchFilter(f)); got != f {
			t.Errorf("round trip of %+v yielded %+v", f, got)
		}
	}
	if got := decodeBranchFilter("garbage"); got != DefaultBranches() {
		t.Errorf("unknown value decoded to %+v", got)
	}
}

func TestReleasesOnlySkipsArtifactLegs(t *testing.T) {
	var runRequests atomic.Int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/releases"):
			fmt.Fprint(w, `[]`)
		case strings.HasSuffix(r.URL.Path, "/actions/runs"):
			runRequests.Add(1)
			fmt.Fprint(w, `{"total_count":0,"workflow_runs":[]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer api.Close()
	cdnSrv := emptyCDN(t)

	agg := newTestAggregator(t, api.URL, cdnSrv.URL)
	if err := agg.AddRepo("acme", "firmware", "main"); err != nil {
		t.Fatal(err)
	}
	if _, err := agg.SetBranchFilter(context.Background(), ReleasesOnly()); err != nil {
		t.Fatal(err)
	}

	sess, err := agg.RefreshAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := sess.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := runRequests.Load(); got != 0 {
		t.Errorf("releases-only refresh issued %d workflow-run requests", got)
	}
}
