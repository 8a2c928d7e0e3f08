// Package store is the RuleStore: per-origin persistence for the three rule
// collections (hidden, removedElements, invalidatedCSS). It is the sole
// source of truth across reloads.
//
// Every mutating call awaits the durable write before returning, so a caller
// that saw Add succeed will see the rule on the next read. Concurrent
// writers from different processes are not serialised: last writer wins
// (accepted limitation; busy_timeout covers lock contention, not merges).
//
// Degraded mode is a typed branch, not a capability probe: construct with a
// nil *sql.DB and the store keeps rules in memory for the session only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ArielCalisaya/HideThis/dbopen"
	"github.com/ArielCalisaya/HideThis/rule"
)

// Store holds rule collections per origin.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// memory fallback, used when db is nil
	mu  sync.Mutex
	mem map[string]map[rule.Collection][]rule.Rule
}

// New creates a Store over db. A nil db selects in-memory degraded mode;
// rules then survive only the current session.
func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if db == nil {
		logger.Warn("store: no database, running in-memory only")
		s.mem = make(map[string]map[rule.Collection][]rule.Rule)
	}
	return s
}

// Open opens (or creates) the rule database at path, applies pragmas and the
// schema, and returns a persistent Store.
func Open(path string, logger *slog.Logger, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return New(db, logger), nil
}

// Close closes the database, if any.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Persistent reports whether rules survive a restart.
func (s *Store) Persistent() bool { return s.db != nil }

// Add inserts a rule into one origin's collection. Set semantics: returns
// false (and no error) when the selector is already present.
func (s *Store) Add(ctx context.Context, origin string, col rule.Collection, r rule.Rule) (bool, error) {
	if s.db == nil {
		return s.memAdd(origin, col, r), nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rules (origin, collection, selector, type, match_count, created_at)
		VALUES (?,?,?,?,?,?)`,
		origin, string(col), r.Selector, string(r.Type), r.MatchCount, r.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("store: add %s/%s: %w", origin, col, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Remove deletes one selector from a collection. Returns false when absent.
func (s *Store) Remove(ctx context.Context, origin string, col rule.Collection, selector string) (bool, error) {
	if s.db == nil {
		return s.memRemove(origin, col, selector), nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rules WHERE origin = ? AND collection = ? AND selector = ?`,
		origin, string(col), selector,
	)
	if err != nil {
		return false, fmt.Errorf("store: remove %s/%s: %w", origin, col, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns one collection's rules in insertion order.
func (s *Store) List(ctx context.Context, origin string, col rule.Collection) ([]rule.Rule, error) {
	if s.db == nil {
		return s.memList(origin, col), nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT selector, type, match_count, created_at
		FROM rules WHERE origin = ? AND collection = ?
		ORDER BY created_at ASC, rowid ASC`,
		origin, string(col),
	)
	if err != nil {
		return nil, fmt.Errorf("store: list %s/%s: %w", origin, col, err)
	}
	defer rows.Close()

	var out []rule.Rule
	for rows.Next() {
		var r rule.Rule
		var typ string
		if err := rows.Scan(&r.Selector, &typ, &r.MatchCount, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Type = rule.RemoveType(typ)
		r.Kind = rule.KindOf(col, r.Type)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Has reports whether a selector is present in a collection.
func (s *Store) Has(ctx context.Context, origin string, col rule.Collection, selector string) (bool, error) {
	if s.db == nil {
		for _, r := range s.memList(origin, col) {
			if r.Selector == selector {
				return true, nil
			}
		}
		return false, nil
	}

	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM rules WHERE origin = ? AND collection = ? AND selector = ?`,
		origin, string(col), selector,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: has %s/%s: %w", origin, col, err)
	}
	return true, nil
}

// Clear empties one collection for an origin and returns how many rules it
// held.
func (s *Store) Clear(ctx context.Context, origin string, col rule.Collection) (int, error) {
	if s.db == nil {
		return s.memClear(origin, col), nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rules WHERE origin = ? AND collection = ?`,
		origin, string(col),
	)
	if err != nil {
		return 0, fmt.Errorf("store: clear %s/%s: %w", origin, col, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Counts tallies all three collections for an origin.
func (s *Store) Counts(ctx context.Context, origin string) (rule.Counts, error) {
	var c rule.Counts
	if s.db == nil {
		c.Hidden = len(s.memList(origin, rule.Hidden))
		c.Removed = len(s.memList(origin, rule.Removed))
		c.Invalidated = len(s.memList(origin, rule.Invalidated))
		return c, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, COUNT(*) FROM rules WHERE origin = ? GROUP BY collection`,
		origin,
	)
	if err != nil {
		return c, fmt.Errorf("store: counts %s: %w", origin, err)
	}
	defer rows.Close()

	for rows.Next() {
		var col string
		var n int
		if err := rows.Scan(&col, &n); err != nil {
			return c, err
		}
		switch rule.Collection(col) {
		case rule.Hidden:
			c.Hidden = n
		case rule.Removed:
			c.Removed = n
		case rule.Invalidated:
			c.Invalidated = n
		}
	}
	return c, rows.Err()
}

// AddMatches bumps a Removed-collection rule's cumulative match count.
func (s *Store) AddMatches(ctx context.Context, origin, selector string, n int) error {
	if n == 0 {
		return nil
	}
	if s.db == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		rules := s.mem[origin][rule.Removed]
		for i := range rules {
			if rules[i].Selector == selector {
				rules[i].MatchCount += n
			}
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE rules SET match_count = match_count + ?
		WHERE origin = ? AND collection = ? AND selector = ?`,
		n, origin, string(rule.Removed), selector,
	)
	if err != nil {
		return fmt.Errorf("store: add matches %s: %w", origin, err)
	}
	return nil
}

// --- memory branch ---

func (s *Store) memCol(origin string, col rule.Collection) []rule.Rule {
	byCol, ok := s.mem[origin]
	if !ok {
		return nil
	}
	return byCol[col]
}

func (s *Store) memAdd(origin string, col rule.Collection, r rule.Rule) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCol, ok := s.mem[origin]
	if !ok {
		byCol = make(map[rule.Collection][]rule.Rule)
		s.mem[origin] = byCol
	}
	for _, have := range byCol[col] {
		if have.Selector == r.Selector {
			return false
		}
	}
	byCol[col] = append(byCol[col], r)
	return true
}

func (s *Store) memRemove(origin string, col rule.Collection, selector string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.memCol(origin, col)
	for i, r := range rules {
		if r.Selector == selector {
			s.mem[origin][col] = append(rules[:i], rules[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Store) memList(origin string, col rule.Collection) []rule.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := s.memCol(origin, col)
	out := make([]rule.Rule, len(rules))
	copy(out, rules)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}

func (s *Store) memClear(origin string, col rule.Collection) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.memCol(origin, col))
	if byCol, ok := s.mem[origin]; ok {
		delete(byCol, col)
	}
	return n
}
