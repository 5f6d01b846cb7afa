package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show API quota, selections, and any pending download",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Environment:   %s\n", globalEngine.Environment())
			fmt.Printf("Branch filter: %s\n", globalEngine.Filter())

			repos, err := globalEngine.ListRepos()
			if err != nil {
				return err
			}
			enabled := 0
			for _, r := range repos {
				if r.Enabled {
					enabled++
				}
			}
			fmt.Printf("Repositories:  %d registered, %d enabled\n", len(repos), enabled)

			if rec := globalEngine.PendingResume(); rec != nil {
				fmt.Printf("Pending:       %s (%s/%s), %s of %s\n",
					rec.ArtifactName, rec.Owner, rec.Repo,
					humanize.Bytes(uint64(rec.BytesDownloaded)), humanize.Bytes(uint64(rec.TotalSize)))
			} else {
				fmt.Println("Pending:       none")
			}

			rl, err := globalEngine.RateLimit(cmd.Context())
			if err != nil {
				logger.Warn("rate limit query failed", "error", err)
				return nil
			}
			fmt.Printf("API quota:     %d/%d remaining, resets %s\n",
				rl.Remaining, rl.Limit, rl.Reset.Local().Format("15:04:05"))
			return nil
		},
	}
}
