package cli

import (
	"fmt"

	"github.com/apk-analysis/apk-libdetector/internal/service"
	"github.com/spf13/cobra"
)

func newCollectCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collect [root]",
		Short: "Aggregate existing per-APK detection results under Extracted_APKs folders",
		Args:  invalidArgs(cobra.MaximumNArgs(1)),
		Annotations: map[string]string{
			"report": "report.file",
			"format": "report.format",
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			return runCollect(cmd, opts, root)
		},
	}
	cmd.Flags().String("report", "", "Report file path")
	cmd.Flags().String("format", "", "Report format: text, yaml, json")
	return cmd
}

func runCollect(cmd *cobra.Command, opts *rootOptions, root string) error {
	cfg, logger := opts.cfg, opts.logger
	if err := cfg.ValidateCollect(); err != nil {
		return err
	}

	ctx := cmd.Context()
	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	defer cleanup()
	if err != nil {
		return err
	}

	outcome, err := service.NewScanService(cfg, deps, logger).Collect(ctx, root)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "collected %d APKs (%d without results), report written to %s\n",
		outcome.Report.TotalPackages, len(outcome.Report.Failures), cfg.Report.File)
	return nil
}
