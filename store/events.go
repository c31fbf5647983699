package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Waffleophagus/claw-rubber/dbopen"
)

// StoreFetchEvent persists a pipeline trace and returns its row ID.
func (s *Store) StoreFetchEvent(ctx context.Context, e *FetchEvent) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := json.Marshal(emptyIfNil(e.Flags))
	if err != nil {
		return 0, fmt.Errorf("store: marshal flags: %w", err)
	}

	res, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO fetch_events (
			result_id, url, domain, decision, score, flags, reason,
			blocked_by, allowed_by, domain_action, medium_threshold,
			block_threshold, bypassed, duration_ms, trace_kind,
			search_request_id, search_query, search_rank, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		nullIfEmpty(e.ResultID), e.URL, e.Domain, e.Decision, e.Score, string(flags),
		nullIfEmpty(e.Reason), nullIfEmpty(e.BlockedBy), nullIfEmpty(e.AllowedBy),
		e.DomainAction, e.MediumThreshold, e.BlockThreshold, e.Bypassed,
		e.DurationMs, e.TraceKind, nullIfEmpty(e.SearchRequestID),
		nullIfEmpty(e.SearchQuery), zeroToNull(e.SearchRank), time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("store: fetch event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: fetch event id: %w", err)
	}
	return id, nil
}

// StoreFlaggedPayload persists block evidence. Content beyond the payload
// cap is sliced off before writing.
func (s *Store) StoreFlaggedPayload(ctx context.Context, p *FlaggedPayload) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := json.Marshal(emptyIfNil(p.Flags))
	if err != nil {
		return "", fmt.Errorf("store: marshal flags: %w", err)
	}
	evidence := p.Evidence
	if len(evidence) == 0 {
		evidence = []byte("[]")
	}
	content := p.Content
	if runes := []rune(content); len(runes) > maxPayloadContent {
		content = string(runes[:maxPayloadContent])
	}

	id := s.newPayloadID()
	_, err = dbopen.Exec(ctx, s.db,
		`INSERT INTO flagged_payloads (
			id, fetch_event_id, result_id, url, domain, score, flags,
			evidence, reason, content, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		id, p.FetchEventID, nullIfEmpty(p.ResultID), p.URL, p.Domain, p.Score,
		string(flags), string(evidence), p.Reason, content, time.Now().UnixMilli())
	if err != nil {
		return "", fmt.Errorf("store: flagged payload: %w", err)
	}
	return id, nil
}

// ListFetchEvents returns the newest events first, for the dashboard.
func (s *Store) ListFetchEvents(ctx context.Context, limit int) ([]FetchEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(result_id,''), url, domain, decision, score, flags,
			COALESCE(reason,''), COALESCE(blocked_by,''), COALESCE(allowed_by,''),
			domain_action, medium_threshold, block_threshold, bypassed,
			duration_ms, trace_kind, COALESCE(search_request_id,''),
			COALESCE(search_query,''), COALESCE(search_rank,0), created_at
		FROM fetch_events
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list fetch events: %w", err)
	}
	defer rows.Close()

	var out []FetchEvent
	for rows.Next() {
		var e FetchEvent
		var flags string
		var created int64
		if err := rows.Scan(&e.ID, &e.ResultID, &e.URL, &e.Domain, &e.Decision,
			&e.Score, &flags, &e.Reason, &e.BlockedBy, &e.AllowedBy,
			&e.DomainAction, &e.MediumThreshold, &e.BlockThreshold, &e.Bypassed,
			&e.DurationMs, &e.TraceKind, &e.SearchRequestID, &e.SearchQuery,
			&e.SearchRank, &created); err != nil {
			return nil, fmt.Errorf("store: scan fetch event: %w", err)
		}
		if err := json.Unmarshal([]byte(flags), &e.Flags); err != nil {
			return nil, fmt.Errorf("store: decode flags: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func emptyIfNil(flags []string) []string {
	if flags == nil {
		return []string{}
	}
	return flags
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func zeroToNull(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
