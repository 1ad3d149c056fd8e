package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desipipe/desipipe/internal/task"
)

// checkAcyclic refuses to let newID depend on newDeps if doing so would
// close a cycle anywhere in the existing dependency graph (spec.md §9:
// "insert-time DFS over deps refuses cyclic graphs with INVALID_GRAPH").
// It walks forward from each of newDeps looking for a path back to newID.
func checkAcyclic(ctx context.Context, tx *sql.Tx, newID string, newDeps []string) error {
	visited := make(map[string]bool)
	var visit func(id string) (bool, error)
	visit = func(id string) (bool, error) {
		if id == newID {
			return true, nil
		}
		if visited[id] {
			return false, nil
		}
		visited[id] = true

		rows, err := tx.QueryContext(ctx, `SELECT dep_id FROM task_deps WHERE task_id = ?`, id)
		if err != nil {
			return false, fmt.Errorf("store: walk deps of %s: %w", id, err)
		}
		defer rows.Close()

		var children []string
		for rows.Next() {
			var dep string
			if err := rows.Scan(&dep); err != nil {
				return false, fmt.Errorf("store: scan dep of %s: %w", id, err)
			}
			children = append(children, dep)
		}
		if err := rows.Err(); err != nil {
			return false, err
		}

		for _, dep := range children {
			found, err := visit(dep)
			if err != nil || found {
				return found, err
			}
		}
		return false, nil
	}

	for _, dep := range newDeps {
		found, err := visit(dep)
		if err != nil {
			return err
		}
		if found {
			return task.ErrInvalidGraph
		}
	}
	return nil
}

// ActivateReady moves every WAITING task whose dependencies have all
// SUCCEEDED to PENDING (spec.md §4.1 invariant: "no task enters RUNNING
// before all deps are SUCCEEDED"). Returns the number activated.
func (s *Store) ActivateReady(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin activate: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT t.id FROM tasks t
		WHERE t.state = 'WAITING'
		AND NOT EXISTS (
			SELECT 1 FROM task_deps d
			JOIN tasks dt ON dt.id = d.dep_id
			WHERE d.task_id = t.id AND dt.state != 'SUCCEEDED'
		)`)
	if err != nil {
		return 0, fmt.Errorf("store: scan ready: %w", err)
	}

	var ready []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: scan ready row: %w", err)
		}
		ready = append(ready, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range ready {
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET state = 'PENDING' WHERE id = ? AND state = 'WAITING'`, id); err != nil {
			return 0, fmt.Errorf("store: activate %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit activate: %w", err)
	}
	return len(ready), nil
}

// CascadeFailure marks every transitive dependent of a FAILED or KILLED
// task as FAILED(DEPENDENCY_FAILED), in one transaction (spec.md §4.1
// cascade_failure(id): "mark all transitive dependents"; §8 property 6:
// "within one scheduler tick"). A recursive CTE walks task_deps from every
// row whose dep is already FAILED/KILLED out to the full closure, so a
// chain A->B->C fails all at once instead of one hop per tick.
func (s *Store) CascadeFailure(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin cascade: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		WITH RECURSIVE doomed(id) AS (
			SELECT d.task_id FROM task_deps d
			JOIN tasks dt ON dt.id = d.dep_id
			WHERE dt.state IN ('FAILED', 'KILLED')
			UNION
			SELECT d.task_id FROM task_deps d
			JOIN doomed ON doomed.id = d.dep_id
		)
		SELECT DISTINCT doomed.id FROM doomed
		JOIN tasks t ON t.id = doomed.id
		WHERE t.state IN ('WAITING', 'PENDING')`)
	if err != nil {
		return 0, fmt.Errorf("store: find cascade candidates: %w", err)
	}

	var victims []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("store: scan cascade candidate: %w", err)
		}
		victims = append(victims, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, id := range victims {
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks SET state = 'FAILED', errno = ?, err = 'dependency failed', t_finished = ?
			WHERE id = ?`, task.ErrnoDependencyFailed, unixSeconds(now), id); err != nil {
			return 0, fmt.Errorf("store: cascade-fail %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit cascade: %w", err)
	}
	return len(victims), nil
}
