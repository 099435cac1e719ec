package cmd

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/bundlesmith/bundlesmith/internal/builder"
	"github.com/bundlesmith/bundlesmith/internal/config"
	"github.com/bundlesmith/bundlesmith/internal/logging"
	"github.com/bundlesmith/bundlesmith/internal/progress"
	"github.com/bundlesmith/bundlesmith/internal/service"
)

type failurePolicy enumflag.Flag

const (
	policyUnset failurePolicy = iota
	policyFailFast
	policyDrainAll
)

var failurePolicyNames = map[failurePolicy][]string{
	policyFailFast: {config.PolicyFailFast},
	policyDrainAll: {config.PolicyDrainAll},
}

func init() {
	var params struct {
		jobs        int
		policy      failurePolicy
		outputDir   string
		dryRun      bool
		noProgress  bool
		metricsAddr string
	}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile all configured bundles.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log := newLogger()

			if params.dryRun {
				return dryRun(cmd, cfg, params.outputDir)
			}

			if params.metricsAddr != "" {
				srv := &http.Server{Addr: params.metricsAddr, Handler: promhttp.Handler()}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						log.Errorf("metrics server: %v", err)
					}
				}()
				defer srv.Close()
			}

			runner := service.New(cfg).WithLogger(log)
			if params.jobs > 0 {
				runner = runner.WithJobs(params.jobs)
			}
			if params.policy != policyUnset {
				runner = runner.WithPolicy(failurePolicyNames[params.policy][0])
			}
			if params.outputDir != "" {
				runner = runner.WithOutputDir(params.outputDir)
			}
			// At debug level the bar and log lines would interleave on the
			// same terminal.
			var bar *progress.Bar
			if !params.noProgress && log.Level() != logging.LevelDebug {
				bar = progress.New(len(cfg.Bundles), "building bundles")
				runner = runner.WithProgress(bar)
			}

			err = runner.Run(cmd.Context())
			bar.Finish()
			printStatuses(cmd, runner.Statuses())
			return err
		},
	}

	cmd.Flags().IntVarP(&params.jobs, "jobs", "j", 0, "override the configured compilation concurrency")
	cmd.Flags().Var(
		enumflag.New(&params.policy, "policy", failurePolicyNames, enumflag.EnumCaseInsensitive),
		"failure-policy", "override the configured failure policy (fail-fast, drain-all)")
	cmd.Flags().StringVarP(&params.outputDir, "output-dir", "o", "", "set the artifact output directory")
	cmd.Flags().BoolVar(&params.dryRun, "dry-run", false, "print the compiler invocations without running anything")
	cmd.Flags().BoolVar(&params.noProgress, "no-progress", false, "disable the progress bar")
	cmd.Flags().StringVar(&params.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while building")

	RootCommand.AddCommand(cmd)
}

// dryRun prints the compiler argv for every bundle in submission order.
func dryRun(cmd *cobra.Command, cfg *config.Root, outputDir string) error {
	bundles, err := cfg.TopologicalSortedBundles()
	if err != nil {
		return err
	}

	for _, bundle := range bundles {
		b := builder.New().
			WithBundle(bundle).
			WithCompiler(&cfg.Compiler).
			WithDefines(cfg.Defines).
			WithTokens(cfg.Tokens)
		if outputDir != "" {
			b = b.WithOutputDir(outputDir)
		}

		inv, err := b.Invocation()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", bundle.Name, strings.Join(inv.Args(), " "))
	}
	return nil
}

func printStatuses(cmd *cobra.Command, statuses map[string]service.Status) {
	if len(statuses) == 0 {
		return
	}
	writeStatusTable(cmd.OutOrStdout(), statuses)
}
