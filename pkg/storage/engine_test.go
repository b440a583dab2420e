package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAppliesPragmasAndServesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	e, err := Open(Options{Path: path, BusyTimeoutSeconds: 2, Component: "test"})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	err = e.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO t (v) VALUES (?)`, "hello")
		return err
	})
	require.NoError(t, err)

	var v string
	row := e.QueryRow(`SELECT v FROM t WHERE id = 1`)
	require.NoError(t, row.Scan(&v))
	require.Equal(t, "hello", v)

	require.NoError(t, e.CheckpointWAL())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	e, err := Open(Options{Path: path, BusyTimeoutSeconds: 2})
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	sentinel := errFake{}
	err = e.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (id) VALUES (1)`); err != nil {
			return err
		}
		return sentinel
	})
	require.Equal(t, sentinel, err)

	var count int
	require.NoError(t, e.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	require.Equal(t, 0, count)
}

type errFake struct{}

func (errFake) Error() string { return "fake failure" }
