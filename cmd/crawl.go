package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit-crawler/internal/audit"
	"github.com/JakeFAU/site-audit-crawler/internal/crawler"
)

const pollInterval = 250 * time.Millisecond

type crawlOptions struct {
	name       string
	clientID   string
	maxPages   int
	maxDepth   int
	delayMs    int
	subdomains bool
	noRobots   bool
	out        string
}

func newCrawlCmd() *cobra.Command {
	var opts crawlOptions
	cmd := &cobra.Command{
		Use:   "crawl <base-url>",
		Short: "Audit one site in the foreground and print its summary",
		Long: `Creates an audit run for base-url, crawls it with the configured
worker pool and prints the summary and issue counters as JSON when the
run finishes. Interrupting the command leaves the run paused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "", "run name (defaults to the base URL)")
	f.StringVar(&opts.clientID, "client", "", "client id to file the run under")
	f.IntVar(&opts.maxPages, "max-pages", 0, "page budget (0 uses the configured default)")
	f.IntVar(&opts.maxDepth, "max-depth", 0, "depth limit (0 uses the configured default)")
	f.IntVar(&opts.delayMs, "delay", 0, "politeness delay in milliseconds (0 uses the configured default)")
	f.BoolVar(&opts.subdomains, "include-subdomains", false, "treat subdomains of the base host as internal")
	f.BoolVar(&opts.noRobots, "ignore-robots", false, "do not consult robots.txt")
	f.StringVarP(&opts.out, "out", "o", "", "write the CSV export to this file")
	return cmd
}

func runCrawl(cmd *cobra.Command, baseURL string, opts crawlOptions) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan error, 1)
	go func() { workersDone <- rt.app.Run(ctx) }()

	name := opts.name
	if name == "" {
		name = baseURL
	}
	respect := !opts.noRobots
	svc := rt.app.Service()
	run, err := svc.Start(ctx, audit.CreateRequest{
		Name:     name,
		BaseURL:  baseURL,
		ClientID: opts.clientID,
		Settings: audit.SettingsInput{
			MaxPages:          opts.maxPages,
			MaxDepth:          opts.maxDepth,
			Delay:             opts.delayMs,
			IncludeSubdomains: &opts.subdomains,
			RespectRobotsTxt:  &respect,
		},
	})
	if err != nil {
		return err
	}
	rt.logger.Info("audit started", zap.String("run_id", run.ID), zap.String("base_url", run.BaseURL))

	run, err = waitTerminal(ctx, svc, run.ID)
	if err != nil {
		stop()
		<-workersDone
		return err
	}
	stop()
	<-workersDone

	if opts.out != "" {
		_, data, err := svc.Export(context.WithoutCancel(ctx), run.ID)
		if err != nil {
			return err
		}
		if err := os.WriteFile(opts.out, data, 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
	}
	sum, err := svc.Summary(context.WithoutCancel(ctx), run.ID)
	if err != nil {
		return err
	}
	return printJSON(cmd, sum)
}

func waitTerminal(ctx context.Context, svc *audit.Service, runID string) (crawler.AuditRun, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return crawler.AuditRun{}, fmt.Errorf("audit %s interrupted: %w", runID, ctx.Err())
		case <-ticker.C:
			run, err := svc.Get(ctx, runID)
			if err != nil {
				return crawler.AuditRun{}, err
			}
			if run.Status.IsTerminal() {
				return run, nil
			}
		}
	}
}
