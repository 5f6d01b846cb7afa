package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/laerdal/simimager/internal/download"
)

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Continue an interrupted artifact download",
		RunE: func(cmd *cobra.Command, args []string) error {
			rec := globalEngine.PendingResume()
			if rec == nil {
				fmt.Println("No resumable download found")
				return nil
			}
			fmt.Printf("Resuming %s (%s/%s): %s of %s done\n",
				rec.ArtifactName, rec.Owner, rec.Repo,
				humanize.Bytes(uint64(rec.BytesDownloaded)), humanize.Bytes(uint64(rec.TotalSize)))

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

			files, cachePath, err := globalEngine.ResumePending(cmd.Context())
			fmt.Println()
			if err != nil {
				if errors.Is(err, download.ErrCancelled) {
					fmt.Println("Download cancelled; partial progress saved.")
					return nil
				}
				return err
			}
			printPayloadFiles(files, cachePath)
			return nil
		},
	}
}

func newDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Discard the pending partial download",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rec := globalEngine.PendingResume(); rec == nil {
				fmt.Println("No resumable download found")
				return nil
			}
			globalEngine.DiscardPending()
			fmt.Println("Partial download discarded")
			return nil
		},
	}
}
