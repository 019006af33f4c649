package cli

import (
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/apk-analysis/apk-libdetector/internal/domain"
	"github.com/apk-analysis/apk-libdetector/internal/extractor"
	"github.com/apk-analysis/apk-libdetector/internal/service"
	"github.com/spf13/cobra"
)

func newScanCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Extract, detect and count libraries in a directory of APKs",
		Args:  invalidArgs(cobra.NoArgs),
		Annotations: map[string]string{
			"libraries": "paths.libraries",
			"apks":      "paths.apks",
			"output":    "paths.output",
			"threads":   "worker.concurrency",
			"watch":     "watch.enabled",
			"dex2jar":   "extractor.tool_dir",
			"report":    "report.file",
			"format":    "report.format",
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd, opts)
		},
	}
	cmd.Flags().StringP("libraries", "l", "", "Whitelist directory (<library>/<version>/)")
	cmd.Flags().StringP("apks", "a", "", "Directory of APK files")
	cmd.Flags().StringP("output", "o", "", "Extraction output directory")
	cmd.Flags().IntP("threads", "t", 0, "Worker pool size (default: number of CPUs)")
	cmd.Flags().Bool("watch", false, "Keep running and process APKs added to the APK directory")
	cmd.Flags().String("dex2jar", "", "dex2jar installation directory")
	cmd.Flags().String("report", "", "Report file path")
	cmd.Flags().String("format", "", "Report format: text, yaml, json")
	return cmd
}

func runScan(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger := opts.cfg, opts.logger
	if err := cfg.ValidateScan(); err != nil {
		return err
	}

	runner, err := extractor.NewDex2JarRunner(cfg.Extractor.ToolDir, logger)
	if err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid dex2jar directory").
			WithCause(err)
	}

	ctx := cmd.Context()
	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	defer cleanup()
	if err != nil {
		return err
	}
	deps.Runner = runner

	svc := service.NewScanService(cfg, deps, logger)
	outcome, err := svc.Scan(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processed %d APKs (%d failed), report written to %s\n",
		outcome.Report.TotalPackages, len(outcome.Report.Failures), cfg.Report.File)

	if !cfg.Watch.Enabled {
		return nil
	}

	done := make([]domain.Package, 0, len(outcome.Results))
	for _, r := range outcome.Results {
		done = append(done, r.Package)
	}
	return svc.Watch(ctx, outcome.Report, done)
}
