//go:build sqltask

package probe

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/macwilam/netwatch/pkg/wire"
)

// runSQL opens p.DriverDSN fresh per probe (the query cadence is at most
// once per minute per spec.md §3's MinScheduleSeconds for sql_query, so
// connection setup cost is not a concern) and runs p.Query, counting rows.
func runSQL(p wire.SQLParams, timeout time.Duration) *wire.RawSQLMetric {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	db, err := sql.Open("sqlite", p.DriverDSN)
	if err != nil {
		return &wire.RawSQLMetric{Success: false, Error: strPtr(err.Error())}
	}
	defer db.Close()

	start := time.Now()
	rows, err := db.QueryContext(ctx, p.Query)
	if err != nil {
		return &wire.RawSQLMetric{Success: false, Error: strPtr(err.Error())}
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	elapsed := msSince(start)
	if err := rows.Err(); err != nil {
		return &wire.RawSQLMetric{QueryTimingMs: &elapsed, Success: false, Error: strPtr(err.Error())}
	}

	return &wire.RawSQLMetric{QueryTimingMs: &elapsed, RowsReturned: intPtr(count), Success: true}
}
