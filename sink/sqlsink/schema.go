package sqlsink

const (
	sCHEMA_VIEW_TABLE = `
		CREATE TABLE IF NOT EXISTS %s (
			cid         TEXT,
			ordinal     INT,
			record_id   TEXT,
			attributes  TEXT
		);`

	sTMT_CLEAR  = `DELETE FROM %s WHERE ordinal >= 0`
	sTMT_INSERT = `INSERT INTO %s (cid, ordinal, record_id, attributes) VALUES ($1, $2, $3, $4)`
	sTMT_UPDATE = `UPDATE %s SET record_id = $1, attributes = $2 WHERE cid = $3`
	qUERY_ROWS  = `SELECT cid, ordinal, record_id, attributes FROM %s ORDER BY ordinal`
)
