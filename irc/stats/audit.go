package stats

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// AuditSink periodically writes Counters snapshots to a MySQL table, for
// deployments that want stats history to survive a process restart (this
// core itself treats the counters as read-only in-memory state, spec 4.J).
type AuditSink struct {
	db *sql.DB
}

// OpenAuditSink connects to dsn (a standard go-sql-driver/mysql DSN) and
// ensures the audit table exists.
func OpenAuditSink(dsn string) (*AuditSink, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("stats: open audit sink: %w", err)
	}
	const schema = `CREATE TABLE IF NOT EXISTS stats_snapshots (
		taken_at BIGINT NOT NULL,
		accepts BIGINT NOT NULL,
		refused_accepts BIGINT NOT NULL,
		kills BIGINT NOT NULL,
		auth_successes BIGINT NOT NULL,
		auth_failures BIGINT NOT NULL,
		sasl_successes BIGINT NOT NULL,
		sasl_failures BIGINT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("stats: create audit table: %w", err)
	}
	return &AuditSink{db: db}, nil
}

func (a *AuditSink) Close() error { return a.db.Close() }

// Record writes one snapshot row, timestamped at now.
func (a *AuditSink) Record(snap Snapshot, now time.Time) error {
	_, err := a.db.Exec(
		`INSERT INTO stats_snapshots
			(taken_at, accepts, refused_accepts, kills, auth_successes, auth_failures, sasl_successes, sasl_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		now.Unix(), snap.Accepts, snap.RefusedAccepts, snap.Kills,
		snap.AuthSuccesses, snap.AuthFailures, snap.SASLSuccesses, snap.SASLFailures,
	)
	if err != nil {
		return fmt.Errorf("stats: record snapshot: %w", err)
	}
	return nil
}
