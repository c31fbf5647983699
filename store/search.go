package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Waffleophagus/claw-rubber/dbopen"
)

// ErrNotFound is returned for unknown or expired records.
var ErrNotFound = errors.New("store: not found")

// StoreSearchRequest persists a search invocation and returns its ID.
func (s *Store) StoreSearchRequest(ctx context.Context, query string, resultCount int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newRequestID()
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO search_requests (id, query, result_count, created_at) VALUES (?,?,?,?)`,
		id, query, resultCount, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("store: search request: %w", err)
	}
	return id, nil
}

// StoreSearchResult caches one result. ResultID is generated; CreatedAt and
// ExpiresAt come from the ttl. The record is immutable after creation.
func (s *Store) StoreSearchResult(ctx context.Context, r *SearchResultRecord, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("store: non-positive ttl")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newResultID()
	now := time.Now()
	var blockReason any
	if r.BlockReason != "" {
		blockReason = r.BlockReason
	}
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO search_results (
			result_id, request_id, query, rank, url, domain, title, snippet,
			source, availability, block_reason, created_at, expires_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, r.RequestID, r.Query, r.Rank, r.URL, r.Domain, r.Title, r.Snippet,
		r.Source, r.Availability, blockReason, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return "", fmt.Errorf("store: search result: %w", err)
	}
	return id, nil
}

// GetSearchResult returns a cached result if it has not expired, else
// ErrNotFound.
func (s *Store) GetSearchResult(ctx context.Context, resultID string) (*SearchResultRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT result_id, request_id, query, rank, url, domain, title, snippet,
			source, availability, COALESCE(block_reason, ''), created_at, expires_at
		FROM search_results
		WHERE result_id = ? AND expires_at > ?`,
		resultID, time.Now().UnixMilli())

	var r SearchResultRecord
	var created, expires int64
	err := row.Scan(&r.ResultID, &r.RequestID, &r.Query, &r.Rank, &r.URL, &r.Domain,
		&r.Title, &r.Snippet, &r.Source, &r.Availability, &r.BlockReason, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get search result: %w", err)
	}
	r.CreatedAt = time.UnixMilli(created)
	r.ExpiresAt = time.UnixMilli(expires)
	return &r, nil
}
