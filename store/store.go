// Package store is the persistence adapter. It exclusively owns every
// record; all mutations funnel through one Store whose writes are
// serialized, so readers always see the last completed write.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/Waffleophagus/claw-rubber/idgen"
)

// Store wraps the claw-rubber database.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writes; SQLite has one writer anyway

	newRequestID idgen.Generator
	newResultID  idgen.Generator
	newPayloadID idgen.Generator
}

// New creates a Store over an opened database and applies the schema.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{
		db:           db,
		newRequestID: idgen.Prefixed("req_", idgen.UUIDv7()),
		newResultID:  idgen.UUIDv4(),
		newPayloadID: idgen.Prefixed("fp_", idgen.UUIDv7()),
	}, nil
}

// IsHealthy reports whether the database answers a trivial query.
func (s *Store) IsHealthy(ctx context.Context) bool {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one) == nil
}
