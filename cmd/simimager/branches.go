package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newBranchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "branches",
		Short: "List branches and tags of registered repositories",
		Long: `List the branches and tags of every enabled repository, for use with
the --branch filter of the list command. Slow repositories are dropped
after a deadline rather than stalling the listing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := globalEngine.FetchBranches(cmd.Context())
			if err != nil {
				return err
			}
			if len(refs) == 0 {
				fmt.Println("No repositories enabled")
				return nil
			}
			for _, r := range refs {
				fmt.Printf("%s/%s\n", r.Owner, r.Repo)
				if len(r.Branches) > 0 {
					fmt.Printf("  branches: %s\n", strings.Join(r.Branches, ", "))
				}
				if len(r.Tags) > 0 {
					fmt.Printf("  tags:     %s\n", strings.Join(r.Tags, ", "))
				}
			}
			return nil
		},
	}
}
