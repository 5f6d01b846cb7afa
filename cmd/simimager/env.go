package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/laerdal/simimager/internal/source/cdn"
)

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env [name]",
		Short: "Show or set the CDN environment",
		Long: `Without an argument, print the selected CDN environment and the
available choices. With an argument, select and persist it.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				current := globalEngine.Environment()
				for _, env := range cdn.Environments() {
					marker := " "
					if env == current {
						marker = "*"
					}
					fmt.Printf("%s %s\n", marker, env)
				}
				return nil
			}
			env, err := cdn.ParseEnvironment(args[0])
			if err != nil {
				return err
			}
			if err := globalEngine.SetEnvironment(env); err != nil {
				return err
			}
			fmt.Printf("Environment set to %s\n", env)
			return nil
		},
	}
}
