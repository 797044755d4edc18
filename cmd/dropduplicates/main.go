package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yodahq/dropduplicates/internal"
	"github.com/yodahq/dropduplicates/internal/config"
	"github.com/yodahq/dropduplicates/internal/journal"
	"github.com/yodahq/dropduplicates/internal/logging"
	"github.com/yodahq/dropduplicates/internal/notify"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	// Optional: secrets like SMTP_PASSWORD / DB_PASSWORD can live in a
	// local .env instead of the ini files.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "dropduplicates",
		Usage: "scheduled duplicate maintenance for analytical-database tables",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "r_duplicates.ini",
				Usage:   "path to the duplicates config file (connection + table sections)",
				EnvVars: []string{"DUPLICATES_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "email-config",
				Usage:   "path to the email/webhook config file; alerts are disabled when omitted",
				EnvVars: []string{"DUPLICATES_EMAIL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "conn-section",
				Value: "redshift",
				Usage: "name of the connection section in the config file",
			},
			&cli.StringFlag{
				Name:  "table-prefix",
				Value: "table_",
				Usage: "sections whose name starts with this prefix are treated as table configs",
			},
			&cli.StringFlag{
				Name:    "log-file",
				Value:   "dropduplicates.log",
				Usage:   "append-only log file; empty disables file logging",
				EnvVars: []string{"DUPLICATES_LOG_FILE"},
			},
			&cli.StringFlag{
				Name:  "journal",
				Usage: "path to the bolt run-journal file; journaling is disabled when omitted",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "cron expression; when set, the subcommand runs on that schedule instead of once",
			},
			&cli.BoolFlag{
				Name:  "strict-exit",
				Usage: "exit 1 when any table failed (default keeps exit 0 and only reports failures)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "check",
				Usage: "find duplicates and alert; never mutates data",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "report-file",
						Usage: "also write the full report to this file (atomic replace)",
					},
					&cli.BoolFlag{
						Name:  "suppress-repeats",
						Usage: "skip alerting tables whose duplicate set is unchanged since the last run (needs --journal)",
					},
				},
				Action: func(c *cli.Context) error {
					return runJob(c, func(ctx context.Context, r *internal.Runner) (int, error) {
						return r.Check(ctx)
					})
				},
			},
			{
				Name:  "remove",
				Usage: "remove duplicates, keeping one row per (dateCreated, unique_key) pair",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "report what would be removed without mutating anything",
					},
				},
				Action: func(c *cli.Context) error {
					return runJob(c, func(ctx context.Context, r *internal.Runner) (int, error) {
						return r.Remove(ctx)
					})
				},
			},
			{
				Name:  "history",
				Usage: "print recent journal entries",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "maximum number of entries to print",
					},
				},
				Action: history,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// runJob builds the Runner from flags and executes job once, or on a cron
// schedule when --schedule is set.
func runJob(c *cli.Context, job func(context.Context, *internal.Runner) (int, error)) error {
	logger, closeLogger, err := logging.New(c.String("log-file"))
	if err != nil {
		return err
	}
	defer closeLogger()

	tables, err := config.NewLoader(c.String("config"))
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(c, logger)
	if err != nil {
		return err
	}

	var jnl *journal.Journal
	if path := c.String("journal"); path != "" {
		jnl, err = journal.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := jnl.Close(); err != nil {
				logger.Warn("Closing journal", zap.Error(err))
			}
		}()
	}

	runner := &internal.Runner{
		Logger:          logger,
		Tables:          tables,
		ConnSection:     c.String("conn-section"),
		TablePrefix:     c.String("table-prefix"),
		Notifier:        notifier,
		Journal:         jnl,
		SuppressRepeats: c.Bool("suppress-repeats"),
		DryRun:          c.Bool("dry-run"),
		ReportFile:      c.String("report-file"),
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	once := func() error {
		logger.Info("Starting job")
		failed, err := job(ctx, runner)
		if err != nil {
			return err
		}
		logger.Info("Job finished", zap.Int("failed_tables", failed))
		if failed > 0 && c.Bool("strict-exit") {
			return cli.Exit(fmt.Sprintf("%d table(s) failed", failed), 1)
		}
		return nil
	}

	spec := c.String("schedule")
	if spec == "" {
		return once()
	}

	sched := cron.New()
	if _, err := sched.AddFunc(spec, func() {
		if err := once(); err != nil {
			logger.Error("Scheduled run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}

	logger.Info("Running on schedule", zap.String("schedule", spec))
	sched.Start()
	<-ctx.Done()
	<-sched.Stop().Done()
	return nil
}

func buildNotifier(c *cli.Context, logger *zap.Logger) (notify.Notifier, error) {
	path := c.String("email-config")
	if path == "" {
		logger.Warn("No email config given; alerts are disabled")
		return notify.Noop{}, nil
	}

	loader, err := config.NewLoader(path)
	if err != nil {
		return nil, err
	}
	emailCfg, err := loader.Email("email_config")
	if err != nil {
		return nil, err
	}

	var notifiers []notify.Notifier
	if emailCfg.SMTPHost != "" {
		notifiers = append(notifiers, notify.NewMailer(emailCfg))
	}
	if emailCfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlacker(emailCfg.SlackWebhookURL))
	}
	if len(notifiers) == 0 {
		logger.Warn("Email config has no SMTP host or webhook URL; alerts are disabled")
		return notify.Noop{}, nil
	}

	return &notify.Fanout{Notifiers: notifiers, Logger: logger}, nil
}

func history(c *cli.Context) error {
	path := c.String("journal")
	if path == "" {
		return cli.Exit("history requires --journal", 1)
	}

	jnl, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer jnl.Close()

	recs, err := jnl.Recent(c.Int("limit"))
	if err != nil {
		return err
	}

	for _, rec := range recs {
		fmt.Printf("%s  %-6s  %-40s  %-8s  dups=%d removed=%d  %s\n",
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Action, rec.Table, rec.Outcome, rec.DuplicateRows, rec.RowsRemoved, rec.Detail)
	}
	return nil
}
