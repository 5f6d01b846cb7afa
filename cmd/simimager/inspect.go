package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/laerdal/simimager/internal/download"
	"github.com/laerdal/simimager/internal/inspect"
	"github.com/laerdal/simimager/internal/source"
)

var (
	inspectRepo   string
	inspectBranch string
	inspectName   string
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <artifact-id>",
		Short: "Download a CI artifact and list its payload files",
		Long: `Download a CI build artifact (reusing the cache when possible) and
list the flashable payload files it contains. An interrupted download
keeps its partial file; rerun with "simimager resume" to continue, or
"simimager discard" to drop it.`,
		Example: `  simimager inspect 123456 --repo acme/firmware
  simimager inspect 123456 --repo acme/firmware --branch release/2.x`,
		Args: cobra.ExactArgs(1),
		RunE: inspectRun,
	}

	cmd.Flags().StringVar(&inspectRepo, "repo", "", "repository the artifact belongs to (owner/name)")
	cmd.Flags().StringVar(&inspectBranch, "branch", "", "branch the artifact was built from")
	cmd.Flags().StringVar(&inspectName, "name", "", "artifact name, for the resume record")
	cmd.MarkFlagRequired("repo")
	return cmd
}

func inspectRun(cmd *cobra.Command, args []string) error {
	artifactID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid artifact id %q", args[0])
	}
	owner, repo, err := splitRepoArg(inspectRepo)
	if err != nil {
		return err
	}

	// Ctrl-C cancels the download but keeps the partial file so a
	// later run can resume it.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			fmt.Fprintln(os.Stderr, "\ninterrupted, keeping partial download")
			globalEngine.CancelInspection(true)
		}
	}()

	globalEngine.OnDownloadProgress = printProgress

	files, cachePath, err := globalEngine.InspectArtifact(cmd.Context(), source.CandidateImage{
		Name:       inspectName,
		Origin:     source.OriginGitHubArtifact,
		ArtifactID: artifactID,
		Owner:      owner,
		Repo:       repo,
		Branch:     inspectBranch,
	})
	fmt.Println()
	if err != nil {
		if errors.Is(err, download.ErrCancelled) {
			fmt.Println("Download cancelled; partial progress saved. Run \"simimager resume\" to continue.")
			return nil
		}
		return err
	}

	printPayloadFiles(files, cachePath)
	return nil
}

func printProgress(received, total int64) {
	if total > 0 {
		fmt.Printf("\rdownloading %s / %s", humanize.Bytes(uint64(received)), humanize.Bytes(uint64(total)))
	} else {
		fmt.Printf("\rdownloading %s", humanize.Bytes(uint64(received)))
	}
}

func printPayloadFiles(files []inspect.PayloadFile, cachePath string) {
	if len(files) == 0 {
		fmt.Println("No payload files found in artifact")
		return
	}
	fmt.Printf("Archive: %s\n\n", cachePath)
	fmt.Printf("%-50s %-6s %10s\n", "Entry", "Kind", "Size")
	for _, f := range files {
		fmt.Printf("%-50s %-6s %10s\n", f.EntryPath, f.Kind, humanize.Bytes(uint64(f.SizeBytes)))
	}
}
