package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/djlord-it/findingsd/internal/subscription"
)

func subscriptionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "Inspect subscription definitions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <dir>",
		Short: "Parse and validate every subscription file of a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subs, err := subscription.LoadDir(args[0])
			out := cmd.OutOrStdout()
			for _, s := range subs {
				fmt.Fprintf(out, "ok    %-6s %s (%s)\n", s.Type, s.Name, s.JobName)
			}

			var loadErrs subscription.LoadErrors
			if errors.As(err, &loadErrs) {
				for _, fe := range loadErrs {
					fmt.Fprintf(out, "error %s\n", fe.Error())
				}
				return invalidConfig(errors.Errorf("%d of %d subscription files are invalid", len(loadErrs), len(loadErrs)+len(subs)))
			}
			if err != nil {
				return invalidConfig(err)
			}
			fmt.Fprintf(out, "%d subscriptions valid\n", len(subs))
			return nil
		},
	})
	return cmd
}
