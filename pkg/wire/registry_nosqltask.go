//go:build !sqltask

package wire

// SQLTaskEnabled stays false; sql_query tasks are rejected while tasks.toml
// is decoded, by rawTaskConfig.toTaskConfig.
func init() {}
