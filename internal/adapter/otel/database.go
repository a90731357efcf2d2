package otel

import (
	"database/sql"
	"fmt"

	"github.com/XSAM/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// dbSpanOptions drops the per-row and connection bookkeeping spans that
// River's polling would otherwise produce every second.
var dbSpanOptions = otelsql.SpanOptions{
	OmitConnResetSession: true,
	OmitConnectorConnect: true,
	OmitRows:             true,
	DisableErrSkip:       true,
}

// OpenDB opens a SQLite database whose statements are traced and whose pool
// reports metrics, then hands it to prepare (pragmas and migrations). The
// pool is capped at one connection: the app and River share it and SQLite
// allows a single writer.
func OpenDB(dataSourceName string, prepare func(*sql.DB) error) (*sql.DB, error) {
	db, err := otelsql.Open("sqlite", dataSourceName,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
		otelsql.WithSpanOptions(dbSpanOptions),
	)
	if err != nil {
		return nil, fmt.Errorf("opening instrumented database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := otelsql.RegisterDBStatsMetrics(db,
		otelsql.WithAttributes(semconv.DBSystemSqlite),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("registering db stats metrics: %w", err)
	}

	if prepare != nil {
		if err := prepare(db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
