package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/desipipe/desipipe/internal/task"
)

// ConfigDigest returns the stable hex digest of a tm_config blob, used to
// group tasks by the TaskManager configuration that produced them
// (spec.md §4.5 step 4: "for each distinct TaskManager configuration
// observed among PENDING tasks"). The scheduler and the worker runtime
// both call this on the same bytes, so a worker launched for one digest
// only ever claims tasks stamped with it.
func ConfigDigest(tmConfig []byte) string {
	sum := sha256.Sum256(tmConfig)
	return hex.EncodeToString(sum[:])
}

// PendingDigests returns the distinct tm_config digests present among
// PENDING tasks, with the count of tasks carrying each — the grouping
// the spawn loop needs before it can compute desired_workers per
// provider_for(config) (spec.md §4.5 step 4).
func (s *Store) PendingDigests(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tm_config FROM tasks WHERE state = 'PENDING'`)
	if err != nil {
		return nil, fmt.Errorf("store: pending digests: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var cfg []byte
		if err := rows.Scan(&cfg); err != nil {
			return nil, fmt.Errorf("store: scan pending config: %w", err)
		}
		counts[ConfigDigest(cfg)]++
	}
	return counts, rows.Err()
}

// ClaimDigest is Claim restricted to PENDING tasks whose tm_config hashes
// to digest (spec.md §4.1 claim(filter): "e.g. ... tm_config predicate").
// A plain column-level filter isn't possible since tm_config is an
// opaque blob; this walks PENDING rows oldest-first computing each row's
// digest in Go, then claims the first match with the same single-row CAS
// UPDATE Claim uses, so the at-most-once guarantee still holds.
func (s *Store) ClaimDigest(ctx context.Context, jobID, digest string, now time.Time) (*task.Task, error) {
	for {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("store: begin claim digest: %w", err)
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT id, tm_config FROM tasks WHERE state = 'PENDING' ORDER BY t_created, id`)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("store: scan pending for claim: %w", err)
		}

		var id string
		found := false
		for rows.Next() {
			var rowID string
			var cfg []byte
			if err := rows.Scan(&rowID, &cfg); err != nil {
				rows.Close()
				tx.Rollback()
				return nil, fmt.Errorf("store: scan claim candidate: %w", err)
			}
			if ConfigDigest(cfg) == digest {
				id = rowID
				found = true
				break
			}
		}
		rows.Close()

		if !found {
			tx.Rollback()
			return nil, nil
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE tasks SET state = 'RUNNING', jobid = ?, t_started = ?, t_heartbeat = ? WHERE id = ? AND state = 'PENDING'`,
			jobID, unixSeconds(now), unixSeconds(now), id)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("store: claim digest %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("store: rows affected for claim digest %s: %w", id, err)
		}
		if n == 0 {
			// Another process won the race; retry against the remaining
			// PENDING rows rather than giving up on the whole digest.
			tx.Rollback()
			continue
		}

		claimed, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("store: reload claimed %s: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("store: commit claim digest %s: %w", id, err)
		}
		return claimed, nil
	}
}
