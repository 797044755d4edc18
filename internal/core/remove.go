package core

import (
	"context"
	"fmt"

	"github.com/yodahq/dropduplicates/internal/db"
	"github.com/yodahq/dropduplicates/internal/models"

	"go.uber.org/zap"
)

// RemoveResult summarizes a completed removal for one table.
type RemoveResult struct {
	Table       string
	RowsDeleted int64
	RowsKept    int64
	// RowsRemoved is the net loss: all copies of each duplicated key were
	// deleted and exactly one copy per key reinserted.
	RowsRemoved int64
}

// StepError reports which of the four steps failed so the table-level error
// boundary can name it in logs and alerts.
type StepError struct {
	Step int
	Name string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Step, e.Name, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Remover runs the four-step removal sequence against one connection.
type Remover struct {
	Querier db.Querier
	Logger  *zap.Logger
}

// RemoveDuplicates deduplicates one table in four steps, each committed in
// its own transaction:
//
//  1. stage surviving rows (earliest dateCreated per duplicated key) into a
//     side table,
//  2. delete every row whose key appears in the side table,
//  3. drop the bookkeeping columns and reinsert the side table's rows,
//  4. drop the side table.
//
// The sequence is NOT atomic across steps: a crash between steps 2 and 3
// loses the deleted rows until the side table is replayed by hand. Step 1 is
// fully committed before step 2 starts, so the reinsert set is complete by
// construction. On a step failure the open transaction is rolled back, the
// side table is dropped best-effort so it cannot linger as visible
// production data, and no further steps run for this table.
func (r *Remover) RemoveDuplicates(ctx context.Context, table models.TableConfig) (RemoveResult, error) {
	if err := db.CheckIdents(table.Ref(), table.SideRef(), table.UniqueKey); err != nil {
		return RemoveResult{}, err
	}

	log := r.Logger.With(zap.String("table", table.Ref()))
	res := RemoveResult{Table: table.Ref()}

	stage := fmt.Sprintf(`
		WITH duplicates_cte AS (
			SELECT
				COUNT(*) OVER (PARTITION BY %[1]s) AS total_duplicates,
				ROW_NUMBER() OVER (PARTITION BY %[1]s ORDER BY dateCreated) AS duplicate_rn,
				*
			FROM %[2]s
		)
		SELECT *
		INTO %[3]s
		FROM duplicates_cte
		WHERE total_duplicates > 1 AND duplicate_rn = 1`,
		table.UniqueKey, table.Ref(), table.SideRef(),
	)
	if _, err := r.step(ctx, 1, "stage", stage); err != nil {
		return res, r.cleanupAfter(ctx, table, err)
	}
	log.Info("Staged surviving rows into side table", zap.String("side_table", table.SideRef()))

	del := fmt.Sprintf(`
		DELETE FROM %[1]s
		USING %[2]s
		WHERE %[2]s.%[3]s = %[1]s.%[3]s`,
		table.Ref(), table.SideRef(), table.UniqueKey,
	)
	deleted, err := r.step(ctx, 2, "delete", del)
	if err != nil {
		return res, r.cleanupAfter(ctx, table, err)
	}
	res.RowsDeleted = deleted
	log.Info("Deleted duplicated keys from main table", zap.Int64("rows_deleted", deleted))

	reinsert := []string{
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN total_duplicates", table.SideRef()),
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN duplicate_rn", table.SideRef()),
		fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", table.Ref(), table.SideRef()),
	}
	kept, err := r.step(ctx, 3, "reinsert", reinsert...)
	if err != nil {
		return res, r.cleanupAfter(ctx, table, err)
	}
	res.RowsKept = kept
	log.Info("Reinserted surviving rows", zap.Int64("rows_kept", kept))

	drop := fmt.Sprintf("DROP TABLE %s", table.SideRef())
	if _, err := r.step(ctx, 4, "cleanup", drop); err != nil {
		return res, err
	}
	log.Info("Dropped side table", zap.String("side_table", table.SideRef()))

	res.RowsRemoved = res.RowsDeleted - res.RowsKept
	return res, nil
}

// step runs one or more statements inside a single transaction and returns
// the affected-row count of the last statement. On error the transaction is
// rolled back explicitly before the error propagates.
func (r *Remover) step(ctx context.Context, n int, name string, stmts ...string) (int64, error) {
	tx, err := r.Querier.Begin(ctx)
	if err != nil {
		return 0, &StepError{Step: n, Name: name, Err: err}
	}

	var affected int64
	for _, stmt := range stmts {
		tag, err := tx.Exec(ctx, stmt)
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				r.Logger.Warn("Rollback failed", zap.Int("step", n), zap.Error(rbErr))
			} else {
				r.Logger.Info("Transaction rolled back", zap.Int("step", n), zap.String("name", name))
			}
			return 0, &StepError{Step: n, Name: name, Err: err}
		}
		affected = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			r.Logger.Warn("Rollback failed", zap.Int("step", n), zap.Error(rbErr))
		}
		return 0, &StepError{Step: n, Name: name, Err: err}
	}
	return affected, nil
}

// cleanupAfter drops the side table after a mid-sequence failure. The stage
// step may already have committed, and a stale side table must not persist
// as visible production data. The drop is best-effort: its own failure is
// logged and the original step error still propagates.
func (r *Remover) cleanupAfter(ctx context.Context, table models.TableConfig, cause error) error {
	drop := fmt.Sprintf("DROP TABLE IF EXISTS %s", table.SideRef())
	if _, err := r.Querier.Exec(ctx, drop); err != nil {
		r.Logger.Warn("Could not drop side table after failure; drop it manually",
			zap.String("side_table", table.SideRef()), zap.Error(err))
	}
	return cause
}
