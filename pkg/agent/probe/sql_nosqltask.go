//go:build !sqltask

package probe

import (
	"time"

	"github.com/macwilam/netwatch/pkg/wire"
)

// runSQL is unreachable in a binary built without the sqltask tag: wire's
// config decoder rejects any tasks.toml entry of type sql_query before a
// TaskConfig referencing SQLParams can ever exist.
func runSQL(p wire.SQLParams, timeout time.Duration) *wire.RawSQLMetric {
	return &wire.RawSQLMetric{Success: false, Error: strPtr("sql_query task type not compiled into this binary")}
}
