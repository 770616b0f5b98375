package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jphoke/mailtls-assessor/pkg/queue"
	"github.com/jphoke/mailtls-assessor/pkg/service"
)

type enqueueOptions struct {
	hosts    []string
	batch    string
	priority int
}

func newEnqueueCmd(root *rootFlags) *cobra.Command {
	opts := enqueueOptions{}
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Add hosts to the assessment queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(opts.hosts) == 0 && opts.batch == "" {
				return fmt.Errorf("either --host or --batch is required")
			}
			return runEnqueue(cmd.Context(), cmd.OutOrStdout(), root, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.hosts, "host", nil, "Host to queue (repeatable)")
	cmd.Flags().StringVarP(&opts.batch, "batch", "b", "", "CSV file with one host per row")
	cmd.Flags().IntVar(&opts.priority, "priority", 0, "Priority for the Postgres queue; higher runs first")
	return cmd
}

func runEnqueue(ctx context.Context, stdout io.Writer, root *rootFlags, opts enqueueOptions) error {
	cfg, logger, err := cliConfig(root)
	if err != nil {
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

	var producer queue.Producer
	switch cfg.Queue.Driver {
	case "postgres":
		db, err := service.OpenDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		q := queue.NewPostgres(db, cfg.Queue.Table, logger)
		if err := q.Migrate(ctx); err != nil {
			return err
		}
		if opts.priority > 0 {
			producer = priorityProducer{q: q, priority: opts.priority}
		} else {
			producer = q
		}
	default:
		rdb, err := service.OpenRedis(cfg)
		if err != nil {
			return err
		}
		defer rdb.Close()
		producer = queue.NewRedis(rdb, cfg.Queue.Key, logger)
	}

	return enqueueAll(ctx, stdout, producer, hosts)
}

type priorityProducer struct {
	q        *queue.Postgres
	priority int
}

func (p priorityProducer) Enqueue(ctx context.Context, host string) (queue.Item, error) {
	return p.q.EnqueuePriority(ctx, host, p.priority)
}

func enqueueAll(ctx context.Context, stdout io.Writer, producer queue.Producer, hosts []string) error {
	queued := 0
	for _, target := range hosts {
		host, err := queue.NormalizeHost(target)
		if err != nil {
			fmt.Fprintf(stdout, "skipped %s: %v\n", target, err)
			continue
		}
		item, err := producer.Enqueue(ctx, host)
		if err != nil {
			return err
		}
		queued++
		fmt.Fprintf(stdout, "queued %s (%s)\n", item.Host, item.ID)
	}
	if queued == 0 {
		return fmt.Errorf("no host was queued")
	}
	return nil
}
