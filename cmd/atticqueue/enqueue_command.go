package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"atticqueue/internal/ipc"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "enqueue <paths...>",
		Short: "Resolve store paths through the daemon and report what was queued",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Enqueue(args)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp.Results)
				}

				out := cmd.OutOrStdout()
				rows := make([][]string, 0, len(resp.Results))
				failed := 0
				for _, result := range resp.Results {
					if result.Error != "" {
						failed++
						rows = append(rows, []string{result.Ref, "-", "-", "-", "-", result.Error})
						continue
					}
					rows = append(rows, []string{
						result.Ref,
						strconv.Itoa(result.ClosureSize),
						strconv.Itoa(result.Trusted),
						strconv.Itoa(result.Cached),
						strconv.Itoa(result.Enqueued),
						"",
					})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Path", "Closure", "Trusted", "Cached", "Queued", "Error"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
					shouldColorize(out),
				))
				if failed > 0 {
					return fmt.Errorf("%d of %d path(s) failed to resolve", failed, len(resp.Results))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func newWakeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "wake",
		Short: "Ask the dispatcher to rescan the work store now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Wake()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Dispatcher woken: %s\n", yesNo(resp.Woken))
				return nil
			})
		},
	}
}
