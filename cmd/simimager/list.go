package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/laerdal/simimager/internal/engine"
	"github.com/laerdal/simimager/internal/source"
)

var (
	listSource string
	listDevice string
	listBranch string
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Discover and list available firmware images",
		Long: `Refresh all enabled sources and print the merged candidate list.
CDN images for the selected environment come first, followed by GitHub
release assets and CI build artifacts sorted newest first.`,
		Example: `  simimager list
  simimager list --source cdn
  simimager list --source github --device simman-64
  simimager list --branch release/2.x`,
		RunE: listRun,
	}

	cmd.Flags().StringVar(&listSource, "source", "all", "sources to list (cdn, github, all)")
	cmd.Flags().StringVar(&listDevice, "device", "", "only show images for this device tag")
	cmd.Flags().StringVar(&listBranch, "branch", "", "search CI artifacts on this branch instead of default branches")
	return cmd
}

func listRun(cmd *cobra.Command, args []string) error {
	var sel engine.SourceFilter
	switch strings.ToLower(listSource) {
	case "cdn":
		sel = engine.SourceCDN
	case "github", "gh":
		sel = engine.SourceGitHub
	case "all", "":
		sel = engine.SourceAll
	default:
		return fmt.Errorf("unknown source %q (expected cdn, github, or all)", listSource)
	}

	ctx := cmd.Context()
	if listBranch != "" {
		if _, err := globalEngine.SetBranchFilter(ctx, engine.Branch(listBranch)); err != nil {
			return err
		}
	}

	statusCh := make(chan string, 1)
	globalEngine.OnListReady = func(_ []source.CandidateImage, status string) {
		statusCh <- status
	}
	globalEngine.OnSourceError = func(name string, err error) {
		logger.Warn("source failed", "source", name, "error", err)
	}

	sess, err := globalEngine.RefreshAll(ctx)
	if err != nil {
		return err
	}
	if err := sess.Wait(ctx); err != nil {
		return err
	}

	candidates := globalEngine.MergedList(sel)
	if listDevice != "" {
		filtered := candidates[:0]
		for _, c := range candidates {
			if c.MatchesDevice(listDevice) {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}

	if len(candidates) == 0 {
		fmt.Println("No images found")
	} else {
		fmt.Printf("%-45s %-10s %-12s %10s  %s\n", "Name", "Origin", "Date", "Size", "Description")
		fmt.Println(strings.Repeat("-", 110))
		for _, c := range candidates {
			date := ""
			if !c.ReleaseDate.IsZero() {
				date = c.ReleaseDate.Format("2006-01-02")
			}
			size := ""
			if c.SizeBytes > 0 {
				size = humanize.Bytes(uint64(c.SizeBytes))
			}
			fmt.Printf("%-45s %-10s %-12s %10s  %s\n",
				truncate(c.Name, 45), originLabel(c.Origin), date, size, truncate(c.Description, 40))
		}
	}

	select {
	case status := <-statusCh:
		fmt.Println()
		fmt.Println(status)
	default:
	}
	return nil
}

func originLabel(o source.Origin) string {
	switch o {
	case source.OriginCDN:
		return "cdn"
	case source.OriginGitHubRelease:
		return "release"
	case source.OriginGitHubArtifact:
		return "artifact"
	}
	return "unknown"
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
