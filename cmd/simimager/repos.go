package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reposAddBranch string

func newReposCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Manage registered GitHub repositories",
		Long: `Manage the GitHub repositories searched for firmware releases and CI
build artifacts. Each registration carries a default branch used by the
artifact search when no branch filter is active.`,
	}

	add := &cobra.Command{
		Use:   "add <owner/name>",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}
			if reposAddBranch != "" {
				return globalEngine.AddRepo(owner, repo, reposAddBranch)
			}
			return globalEngine.AddRepoAutoDetect(cmd.Context(), owner, repo)
		},
	}
	add.Flags().StringVar(&reposAddBranch, "branch", "", "default branch (auto-detected when omitted)")

	remove := &cobra.Command{
		Use:   "remove <owner/name>",
		Short: "Remove a registration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, err := splitRepoArg(args[0])
			if err != nil {
				return err
			}
			return globalEngine.RemoveRepo(owner, repo)
		},
	}

	enable := &cobra.Command{
		Use:   "enable <owner/name>",
		Short: "Enable a registration",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], true) },
	}
	disable := &cobra.Command{
		Use:   "disable <owner/name>",
		Short: "Disable a registration without removing it",
		Args:  cobra.ExactArgs(1),
		RunE:  func(cmd *cobra.Command, args []string) error { return setEnabled(args[0], false) },
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			repos, err := globalEngine.ListRepos()
			if err != nil {
				return err
			}
			if len(repos) == 0 {
				fmt.Println("No repositories registered")
				return nil
			}
			fmt.Printf("%-40s %-20s %s\n", "Repository", "Default branch", "Enabled")
			for _, r := range repos {
				fmt.Printf("%-40s %-20s %v\n", r.FullName(), r.DefaultBranch, r.Enabled)
			}
			return nil
		},
	}

	cmd.AddCommand(add, remove, enable, disable, list)
	return cmd
}

func setEnabled(arg string, enabled bool) error {
	owner, repo, err := splitRepoArg(arg)
	if err != nil {
		return err
	}
	return globalEngine.SetRepoEnabled(owner, repo, enabled)
}
