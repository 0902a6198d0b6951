package sqlsink

import (
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/smartcontractkit/collection-views/pkg/logger"
)

// openMemDbForTest opens a fresh in-process ramsql database.
func openMemDbForTest(t *testing.T) *sql.DB {
	t.Helper()

	db, err := Open(t.Context(), "ramsql://"+uuid.NewString(), WithLogger(logger.Test(t)))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

func countRows(t *testing.T, ctrl *dbController, table string) int {
	t.Helper()

	rows, err := ctrl.Query(t.Context(), "SELECT cid FROM "+table)
	require.NoError(t, err)
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	require.NoError(t, rows.Err())

	return count
}
