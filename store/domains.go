package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Waffleophagus/claw-rubber/dbopen"
	"github.com/Waffleophagus/claw-rubber/policy"
)

// AddRuntimeAllowlistDomain inserts (or refreshes) a runtime allowlist entry.
func (s *Store) AddRuntimeAllowlistDomain(ctx context.Context, domain, note string) error {
	return s.addRuntimeDomain(ctx, "runtime_allowlist", domain, note)
}

// AddRuntimeBlocklistDomain inserts (or refreshes) a runtime blocklist entry.
func (s *Store) AddRuntimeBlocklistDomain(ctx context.Context, domain, note string) error {
	return s.addRuntimeDomain(ctx, "runtime_blocklist", domain, note)
}

func (s *Store) addRuntimeDomain(ctx context.Context, table, domain, note string) error {
	if err := policy.ValidateDomain(domain); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := dbopen.Exec(ctx, s.db,
		`INSERT INTO `+table+` (domain, note, added_at) VALUES (?,?,?)
		ON CONFLICT(domain) DO UPDATE SET note = excluded.note`,
		policy.NormalizeRule(domain), nullIfEmpty(note), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: %s add: %w", table, err)
	}
	return nil
}

// ListRuntimeAllowlistDomains returns all runtime allowlist entries.
func (s *Store) ListRuntimeAllowlistDomains(ctx context.Context) ([]RuntimeDomainEntry, error) {
	return s.listRuntimeDomains(ctx, "runtime_allowlist")
}

// ListRuntimeBlocklistDomains returns all runtime blocklist entries.
func (s *Store) ListRuntimeBlocklistDomains(ctx context.Context) ([]RuntimeDomainEntry, error) {
	return s.listRuntimeDomains(ctx, "runtime_blocklist")
}

func (s *Store) listRuntimeDomains(ctx context.Context, table string) ([]RuntimeDomainEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, COALESCE(note,''), added_at FROM `+table+` ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("store: %s list: %w", table, err)
	}
	defer rows.Close()

	var out []RuntimeDomainEntry
	for rows.Next() {
		var e RuntimeDomainEntry
		var added int64
		if err := rows.Scan(&e.Domain, &e.Note, &added); err != nil {
			return nil, fmt.Errorf("store: %s scan: %w", table, err)
		}
		e.AddedAt = time.UnixMilli(added)
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEffectiveAllowlist unions the static list with runtime entries,
// deduplicated by normalized domain.
func (s *Store) GetEffectiveAllowlist(ctx context.Context, static []string) ([]string, error) {
	return s.effectiveList(ctx, "runtime_allowlist", static)
}

// GetEffectiveBlocklist unions the static list with runtime entries,
// deduplicated by normalized domain.
func (s *Store) GetEffectiveBlocklist(ctx context.Context, static []string) ([]string, error) {
	return s.effectiveList(ctx, "runtime_blocklist", static)
}

func (s *Store) effectiveList(ctx context.Context, table string, static []string) ([]string, error) {
	entries, err := s.listRuntimeDomains(ctx, table)
	if err != nil {
		return nil, err
	}
	runtime := make([]string, len(entries))
	for i, e := range entries {
		runtime[i] = e.Domain
	}
	return policy.MergeLists(static, runtime), nil
}
