package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jphoke/mailtls-assessor/pkg/assess"
	"github.com/jphoke/mailtls-assessor/pkg/config"
	"github.com/jphoke/mailtls-assessor/pkg/logging"
	"github.com/jphoke/mailtls-assessor/pkg/queue"
	"github.com/jphoke/mailtls-assessor/pkg/service"
)

type scanOptions struct {
	hosts   []string
	batch   string
	mode    string
	port    int
	json    bool
	summary bool
}

func newScanCmd(root *rootFlags) *cobra.Command {
	opts := scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Assess one or more hosts and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(opts.hosts) == 0 && opts.batch == "" {
				return fmt.Errorf("either --host or --batch is required")
			}
			return runScan(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), root, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.hosts, "host", nil, "Host to assess (repeatable)")
	cmd.Flags().StringVarP(&opts.batch, "batch", "b", "", "CSV file with one host per row")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "Assessment mode: chain (simplified) or matrix (full)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "SMTP port, overriding the configuration")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "Show only the summary for batch runs")
	return cmd
}

func cliConfig(root *rootFlags) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(root.configPath)
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	level := "warn"
	if root.verbose {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Level: level, Human: true})
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logger, nil
}

func runScan(ctx context.Context, stdout, stderr io.Writer, root *rootFlags, opts scanOptions) error {
	cfg, logger, err := cliConfig(root)
	if err != nil {
		return err
	}
	if opts.mode != "" {
		cfg.Mode = opts.mode
	}
	if opts.port != 0 {
		cfg.SMTP.Port = opts.port
	}
	// One-shot runs keep revocation answers in memory.
	cfg.Revocation.Cache = "memory"
	if err := config.Validate(&cfg); err != nil {
		return err
	}

	hosts := opts.hosts
	if opts.batch != "" {
		f, err := os.Open(opts.batch) // #nosec G304 - CLI tool, user-provided filename is expected
		if err != nil {
			return fmt.Errorf("cannot open batch file: %w", err)
		}
		defer f.Close()
		if hosts, err = parseBatchFile(f); err != nil {
			return fmt.Errorf("cannot parse batch file: %w", err)
		}
	}
	if len(hosts) == 0 {
		return fmt.Errorf("no hosts to assess")
	}

	assessor, err := service.NewAssessor(cfg, logger, nil, nil)
	if err != nil {
		return err
	}

	var results []assess.ResultMessage
	failed := 0
	for i, target := range hosts {
		host, err := queue.NormalizeHost(target)
		if err != nil {
			fmt.Fprintf(stderr, "[%d/%d] %s: %v\n", i+1, len(hosts), target, err)
			failed++
			continue
		}
		fmt.Fprintf(stderr, "[%d/%d] Assessing %s...\n", i+1, len(hosts), host)

		hctx, cancel := context.WithTimeout(ctx, cfg.HostTimeout)
		msg, err := assessor.Assess(hctx, host)
		cancel()
		if err != nil {
			fmt.Fprintf(stderr, "  FAILED: %v\n", err)
			failed++
			continue
		}
		results = append(results, msg)
	}

	switch {
	case opts.json && len(hosts) == 1 && len(results) == 1:
		return writeJSON(stdout, results[0])
	case opts.json:
		return writeJSON(stdout, map[string]any{
			"host_count": len(hosts),
			"failed":     failed,
			"results":    results,
		})
	case opts.summary:
		printBatchSummary(stdout, results, failed)
	default:
		for _, r := range results {
			printTextResult(stdout, r)
			if len(hosts) > 1 {
				fmt.Fprintln(stdout, strings.Repeat("-", 80))
			}
		}
		if len(hosts) > 1 {
			printBatchSummary(stdout, results, failed)
		}
	}
	if len(results) == 0 {
		return fmt.Errorf("no host could be assessed")
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("error encoding JSON output: %w", err)
	}
	return nil
}
