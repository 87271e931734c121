package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/carbon-exchange/internal/port"
)

const mysqlDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		seq         BIGINT       NOT NULL PRIMARY KEY,
		id          CHAR(36)     NOT NULL,
		type        VARCHAR(64)  NOT NULL,
		actor       VARCHAR(255) NOT NULL,
		occurred_at BIGINT       NOT NULL,
		payload     JSON         NOT NULL,
		UNIQUE KEY uq_events_id (id),
		KEY idx_events_type (type)
	) ENGINE=InnoDB`,
}

var _ port.EventStore = (*MySQLAdapter)(nil)

// MySQLAdapter stores the event log in MySQL. Appends lock the tail of the
// table so concurrent writers cannot interleave sequence numbers.
type MySQLAdapter struct {
	sqlEventStore
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{sqlEventStore{
		db:          db,
		schema:      mysqlSchema,
		lockLastSeq: lastSeqSQL + " FOR UPDATE",
		isDuplicate: isMySQLDuplicate,
	}}
}

// OpenMySQL connects to dsn with the pool settings used by the server.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func isMySQLDuplicate(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
