package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"atticqueue/internal/ingest"
)

func newPushCommand(ctx *commandContext) *cobra.Command {
	var pipePath string
	var fromStdin bool

	cmd := &cobra.Command{
		Use:         "push [paths...]",
		Short:       "Write store paths to the daemon's queue pipe",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Long: "Write store paths to the daemon's queue pipe.\n\n" +
			"This is the producer side used by post-build hooks. It returns as soon as\n" +
			"the paths are written; resolution happens asynchronously in the daemon.",
		RunE: func(cmd *cobra.Command, args []string) error {
			refs := append([]string(nil), args...)
			if fromStdin {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					refs = append(refs, strings.Fields(scanner.Text())...)
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			if len(refs) == 0 {
				return errors.New("no store paths given")
			}

			target := strings.TrimSpace(pipePath)
			if target == "" {
				cfg, err := ctx.ensureConfig()
				if err != nil {
					return err
				}
				target = cfg.Paths.QueuePipe
			}
			if err := ingest.Push(target, refs); err != nil {
				if errors.Is(err, ingest.ErrNoReader) {
					return fmt.Errorf("%w; start the daemon with `atticqueue start`", err)
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d path(s) via %s\n", len(refs), target)
			return nil
		},
	}
	cmd.Flags().StringVar(&pipePath, "pipe", "", "Queue pipe path (defaults to paths.queue_pipe)")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Also read whitespace-separated paths from stdin")
	return cmd
}
