package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/curly/internal/report"
	"github.com/Sternrassler/curly/pkg/multi"
)

func newBatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "batch <file.yaml>",
		Short: "Run a keyed batch of requests in parallel",
		Long: `Run the requests of a YAML batch file through the parallel scheduler.

Requests are processed in chunks of --parallel operations; with a
--throttle each chunk lasts at least that long. Failed requests are not
retried and are reported under their key. The file may set parallel and
throttle itself; flags and CURLY_* variables take precedence.

Examples:
  curly batch items.yaml
  curly batch items.yaml --parallel 5 --throttle 1s -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bf, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			return a.runBatch(cmd, bf)
		},
	}
}

func (a *app) runBatch(cmd *cobra.Command, bf *batchFile) error {
	opts := a.schedulerOptions()
	if bf.Parallel != nil && !cmd.Flags().Changed("parallel") && a.cfg.Scheduler.Parallel == 0 {
		opts.Parallel = *bf.Parallel
	}
	if bf.Throttle != nil && !cmd.Flags().Changed("throttle") && a.cfg.Scheduler.Throttle == 0 {
		opts.Throttle = *bf.Throttle
	}

	set := multi.NewOperationSet[string]()
	for _, r := range bf.Requests {
		r = bf.resolved(r)
		op := a.client.Build(r.URL, r.payload(), r.Method, parseCookie(r.Cookie), headerOptions(r.Headers)...)
		if err := set.Add(r.Key, op); err != nil {
			op.Release()
			return err
		}
	}

	a.logger.Info().
		Int("requests", set.Len()).
		Int("parallel", opts.Parallel).
		Dur("throttle", opts.Throttle).
		Msg("Running batch")

	start := time.Now()
	results, err := multi.FetchAll(cmd.Context(), set, opts)
	if err != nil {
		return err
	}
	return a.print(report.FromResults(results), time.Since(start))
}
