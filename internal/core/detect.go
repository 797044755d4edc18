package core

import (
	"context"
	"fmt"

	"github.com/yodahq/dropduplicates/internal/db"
	"github.com/yodahq/dropduplicates/internal/models"
)

// Detect finds duplicate groups in one table: rows sharing a
// (dateCreated, unique key) pair more than once, newest partition first.
// It is read-only and shared by both entry points.
func Detect(ctx context.Context, q db.Querier, table models.TableConfig) ([]models.DuplicateRow, error) {
	if err := db.CheckIdents(table.Ref(), table.UniqueKey); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT dateCreated::text, %[1]s::text, COUNT(*)
		FROM %[2]s
		GROUP BY dateCreated, %[1]s
		HAVING COUNT(*) > 1
		ORDER BY dateCreated DESC`,
		table.UniqueKey, table.Ref(),
	)

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("checking duplicates in %s: %w", table.Ref(), err)
	}
	defer rows.Close()

	var found []models.DuplicateRow
	for rows.Next() {
		var r models.DuplicateRow
		if err := rows.Scan(&r.DateCreated, &r.Key, &r.Count); err != nil {
			return nil, fmt.Errorf("scanning duplicate row from %s: %w", table.Ref(), err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("checking duplicates in %s: %w", table.Ref(), err)
	}

	return found, nil
}
