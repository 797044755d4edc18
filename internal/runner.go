package internal

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/yodahq/dropduplicates/internal/config"
	"github.com/yodahq/dropduplicates/internal/core"
	"github.com/yodahq/dropduplicates/internal/db"
	"github.com/yodahq/dropduplicates/internal/journal"
	"github.com/yodahq/dropduplicates/internal/models"
	"github.com/yodahq/dropduplicates/internal/notify"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/natefinch/atomic"
	"go.uber.org/zap"
)

// Runner wires the job together: config, one database connection, the
// notifier, and the run journal. Check and Remove iterate the configured
// table sections sequentially; every per-table error is caught at the loop
// boundary so one bad table cannot halt the rest.
type Runner struct {
	Logger      *zap.Logger
	Tables      *config.Loader
	ConnSection string
	TablePrefix string
	Notifier    notify.Notifier
	Journal     *journal.Journal // optional

	// Querier overrides the connection when set; tests use it to run the
	// job without a server.
	Querier db.Querier

	SuppressRepeats bool
	DryRun          bool
	ReportFile      string
}

// connect returns the connection for this run, opening one when none was
// injected. The returned closer is always safe to defer.
func (r *Runner) connect(ctx context.Context) (db.Querier, func(), error) {
	if r.Querier != nil {
		return r.Querier, func() {}, nil
	}

	connCfg, err := r.Tables.Conn(r.ConnSection)
	if err != nil {
		return nil, nil, err
	}

	r.Logger.Info("Connecting to database",
		zap.String("host", connCfg.Host), zap.String("database", connCfg.Database))

	conn, err := db.Connect(ctx, connCfg)
	if err != nil {
		return nil, nil, err
	}

	return conn, func() {
		if err := conn.Close(context.Background()); err != nil {
			r.Logger.Warn("Closing connection", zap.Error(err))
		}
	}, nil
}

// tables resolves the configured table sections, re-reading the config file.
func (r *Runner) tables() ([]string, error) {
	sections, err := r.Tables.SectionNames(r.TablePrefix)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 {
		r.Logger.Warn("No table sections configured", zap.String("prefix", r.TablePrefix))
	}
	return sections, nil
}

// Check scans every configured table and alerts on duplicates without
// mutating anything. It returns the number of tables that failed; only
// connection-level problems surface as an error.
func (r *Runner) Check(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		r.Logger.Info("Check finished", zap.Duration("elapsed", time.Since(start)))
	}()

	q, closeConn, err := r.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer closeConn()

	sections, err := r.tables()
	if err != nil {
		return 0, err
	}

	var failed int
	var reportBuf bytes.Buffer

	for _, section := range sections {
		table, err := r.Tables.Table(section)
		if err != nil {
			r.Logger.Error("Skipping table with bad configuration", zap.String("section", section), zap.Error(err))
			failed++
			continue
		}
		log := r.Logger.With(zap.String("table", table.Ref()))

		rows, err := core.Detect(ctx, q, table)
		if err != nil {
			log.Error("Checking duplicates failed", zap.Error(err))
			_ = r.Notifier.Notify(ctx, "Error Checking Duplicates",
				fmt.Sprintf("Error checking duplicates in %s: %v", table.Ref(), err))
			r.record(models.RunRecord{
				Timestamp: time.Now(), Action: models.ActionCheck,
				Table: table.Ref(), Outcome: models.OutcomeFailed, Detail: err.Error(),
			})
			failed++
			continue
		}

		if len(rows) == 0 {
			log.Info("No duplicates found")
			r.record(models.RunRecord{
				Timestamp: time.Now(), Action: models.ActionCheck,
				Table: table.Ref(), Outcome: models.OutcomeClean,
			})
			continue
		}

		report := core.BuildReport(table, rows)
		reportBuf.WriteString(report.Body())
		reportBuf.WriteString("\n")

		if r.SuppressRepeats && r.unchanged(table.Ref(), report) {
			log.Info("Duplicate set unchanged since last run; suppressing alert",
				zap.Int64("total_rows", report.TotalRows))
			r.record(models.RunRecord{
				Timestamp: time.Now(), Action: models.ActionCheck,
				Table: table.Ref(), Outcome: models.OutcomeSkipped,
				DuplicateRows: report.TotalRows, Detail: "unchanged since last run",
			})
			continue
		}

		log.Info("Duplicates found", zap.Int64("total_rows", report.TotalRows))
		subject := fmt.Sprintf("Duplicate(s) found in %s at %s", table.Ref(), time.Now().Format(time.DateTime))
		_ = r.Notifier.Notify(ctx, subject, report.Body())

		r.record(models.RunRecord{
			Timestamp: time.Now(), Action: models.ActionCheck,
			Table: table.Ref(), Outcome: models.OutcomeAlerted,
			DuplicateRows: report.TotalRows,
		})
		r.remember(table.Ref(), report)
	}

	r.writeReport(reportBuf.Bytes())
	return failed, nil
}

// Remove scans every configured table and runs the four-step removal
// sequence on each one with duplicates. It returns the number of tables that
// failed; only connection-level problems surface as an error.
func (r *Runner) Remove(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		r.Logger.Info("Removal finished", zap.Duration("elapsed", time.Since(start)))
	}()

	q, closeConn, err := r.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer closeConn()

	sections, err := r.tables()
	if err != nil {
		return 0, err
	}

	remover := &core.Remover{Querier: q, Logger: r.Logger}
	var failed int

	for _, section := range sections {
		table, err := r.Tables.Table(section)
		if err != nil {
			r.Logger.Error("Skipping table with bad configuration", zap.String("section", section), zap.Error(err))
			failed++
			continue
		}
		log := r.Logger.With(zap.String("table", table.Ref()))

		log.Info("Checking for duplicates")
		rows, err := core.Detect(ctx, q, table)
		if err != nil {
			log.Error("Checking duplicates failed", zap.Error(err))
			_ = r.Notifier.Notify(ctx, "Error Checking Duplicates",
				fmt.Sprintf("Error checking duplicates in %s: %v", table.Ref(), err))
			r.record(models.RunRecord{
				Timestamp: time.Now(), Action: models.ActionRemove,
				Table: table.Ref(), Outcome: models.OutcomeFailed, Detail: err.Error(),
			})
			failed++
			continue
		}

		if len(rows) == 0 {
			log.Info("No duplicates found, skipping")
			r.record(models.RunRecord{
				Timestamp: time.Now(), Action: models.ActionRemove,
				Table: table.Ref(), Outcome: models.OutcomeClean,
			})
			continue
		}

		if r.DryRun {
			report := core.BuildReport(table, rows)
			log.Info("Dry run: duplicates would be removed", zap.Int64("total_rows", report.TotalRows))
			r.record(models.RunRecord{
				Timestamp: time.Now(), Action: models.ActionRemove,
				Table: table.Ref(), Outcome: models.OutcomeSkipped,
				DuplicateRows: report.TotalRows, Detail: "dry run",
			})
			continue
		}

		log.Info("Duplicates found, processing", zap.Int("groups", len(rows)))
		res, err := remover.RemoveDuplicates(ctx, table)
		if err != nil {
			log.Error("Removing duplicates failed", zap.Error(err))
			_ = r.Notifier.Notify(ctx, "Error Removing Duplicates",
				fmt.Sprintf("Error processing steps for %s: %v", table.Ref(), err))
			r.record(models.RunRecord{
				Timestamp: time.Now(), Action: models.ActionRemove,
				Table: table.Ref(), Outcome: models.OutcomeFailed,
				DuplicateRows: int64(len(rows)), Detail: err.Error(),
			})
			failed++
			continue
		}

		log.Info("Duplicates removed", zap.Int64("rows_removed", res.RowsRemoved))
		_ = r.Notifier.Notify(ctx,
			fmt.Sprintf("Duplicate Removal Notification for %s", table.Ref()),
			fmt.Sprintf("Duplicates have been successfully removed from %s. Rows removed: %d.",
				table.Ref(), res.RowsRemoved))
		r.record(models.RunRecord{
			Timestamp: time.Now(), Action: models.ActionRemove,
			Table: table.Ref(), Outcome: models.OutcomeRemoved,
			DuplicateRows: int64(len(rows)), RowsRemoved: res.RowsRemoved,
		})
	}

	return failed, nil
}

// record journals one outcome. Journal trouble is never allowed to affect
// the run.
func (r *Runner) record(rec models.RunRecord) {
	if r.Journal == nil {
		return
	}
	if err := r.Journal.Record(rec); err != nil {
		r.Logger.Warn("Could not journal outcome", zap.String("table", rec.Table), zap.Error(err))
	}
}

func (r *Runner) unchanged(table string, report core.Report) bool {
	if r.Journal == nil {
		return false
	}
	last, err := r.Journal.LastFingerprint(table)
	if err != nil {
		r.Logger.Warn("Could not read last fingerprint", zap.String("table", table), zap.Error(err))
		return false
	}
	return last != "" && last == report.Fingerprint()
}

func (r *Runner) remember(table string, report core.Report) {
	if r.Journal == nil {
		return
	}
	if err := r.Journal.SetFingerprint(table, report.Fingerprint()); err != nil {
		r.Logger.Warn("Could not store fingerprint", zap.String("table", table), zap.Error(err))
	}
}

// writeReport persists the full checker report atomically when a report file
// was configured.
func (r *Runner) writeReport(body []byte) {
	if r.ReportFile == "" {
		return
	}
	if len(body) == 0 {
		body = []byte("No duplicates found in any configured table.\n")
	}

	path, err := homedir.Expand(r.ReportFile)
	if err != nil {
		r.Logger.Warn("Could not expand report file path", zap.Error(err))
		return
	}
	if err := atomic.WriteFile(path, bytes.NewReader(body)); err != nil {
		r.Logger.Warn("Could not write report file", zap.String("path", path), zap.Error(err))
		return
	}
	r.Logger.Info("Report written", zap.String("path", path))
}
