package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desipipe/desipipe/internal/codec"
	"github.com/desipipe/desipipe/internal/task"
)

// row mirrors the tasks table layout for scanning.
type row struct {
	id, appName, appHash, kind          string
	args, kwargs, result, tmConfig     []byte
	deps                               string
	state                              string
	errno                              int
	out, err, jobid                    string
	tCreated                           float64
	tStarted, tFinished, tHeartbeat    sql.NullFloat64
}

func (r row) toTask() (*task.Task, error) {
	var deps []string
	if err := codec.Decode([]byte(r.deps), &deps); err != nil {
		return nil, fmt.Errorf("store: decode deps for %s: %w", r.id, err)
	}
	return &task.Task{
		ID:         r.id,
		AppName:    r.appName,
		AppHash:    r.appHash,
		Kind:       r.kind,
		ArgsBlob:   r.args,
		KwargsBlob: r.kwargs,
		Deps:       deps,
		State:      task.ParseState(r.state),
		ResultBlob: r.result,
		Errno:      r.errno,
		Out:        r.out,
		Err:        r.err,
		JobID:      r.jobid,
		TMConfig:   r.tmConfig,
		TCreated:   time.Unix(0, int64(r.tCreated*1e9)),
		TStarted:   fromUnixSeconds(r.tStarted),
		TFinished:  fromUnixSeconds(r.tFinished),
		THeartbeat: fromUnixSeconds(r.tHeartbeat),
	}, nil
}

const taskColumns = `id, app_name, app_hash, kind, args, kwargs, deps, state, result, errno, out, err, jobid, tm_config, t_created, t_started, t_finished, t_heartbeat`

func scanTask(scanner interface {
	Scan(dest ...any) error
}) (*task.Task, error) {
	var r row
	err := scanner.Scan(
		&r.id, &r.appName, &r.appHash, &r.kind, &r.args, &r.kwargs, &r.deps, &r.state,
		&r.result, &r.errno, &r.out, &r.err, &r.jobid, &r.tmConfig,
		&r.tCreated, &r.tStarted, &r.tFinished, &r.tHeartbeat,
	)
	if err != nil {
		return nil, err
	}
	return r.toTask()
}

// Get fetches a single task row by id.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return t, nil
}

// Insert creates t as a new WAITING (or PENDING, if it has no deps) row
// along with its dependency edges, refusing graphs that would introduce a
// cycle (spec.md §9). Returns (false, nil) without modifying anything if
// the id already exists, so callers can implement reuse policies on top.
func (s *Store) Insert(ctx context.Context, t *task.Task) (inserted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin insert: %w", err)
	}
	defer tx.Rollback()

	exists, err := existsTx(ctx, tx, t.ID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	if err := checkAcyclic(ctx, tx, t.ID, t.Deps); err != nil {
		return false, err
	}

	initial := task.StateWaiting
	if len(t.Deps) == 0 {
		initial = task.StatePending
	}
	t.State = initial

	depsBlob, err := codec.Encode(t.Deps)
	if err != nil {
		return false, fmt.Errorf("store: encode deps: %w", err)
	}

	kind := t.Kind
	if kind == "" {
		kind = task.KindFunc
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, app_name, app_hash, kind, args, kwargs, deps, state, errno, tm_config, t_created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.AppName, t.AppHash, kind, t.ArgsBlob, t.KwargsBlob, string(depsBlob), t.State.String(), t.TMConfig, unixSeconds(t.TCreated))
	if err != nil {
		return false, fmt.Errorf("store: insert task %s: %w", t.ID, err)
	}

	for _, dep := range t.Deps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO task_deps(task_id, dep_id) VALUES (?, ?)`, t.ID, dep); err != nil {
			return false, fmt.Errorf("store: insert dep edge %s->%s: %w", t.ID, dep, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit insert %s: %w", t.ID, err)
	}
	return true, nil
}

func existsTx(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var found int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check existence of %s: %w", id, err)
	}
	return true, nil
}

// Claim atomically transitions one PENDING task to RUNNING and returns it,
// giving the at-most-once guarantee from spec.md §8 property 4. Returns
// (nil, nil) if no task is ready to claim.
func (s *Store) Claim(ctx context.Context, jobID string, now time.Time) (*task.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin claim: %w", err)
	}
	defer tx.Rollback()

	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM tasks WHERE state = 'PENDING' ORDER BY t_created LIMIT 1`).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: select claimable: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET state = 'RUNNING', jobid = ?, t_started = ?, t_heartbeat = ? WHERE id = ? AND state = 'PENDING'`,
		jobID, unixSeconds(now), unixSeconds(now), id)
	if err != nil {
		return nil, fmt.Errorf("store: claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: rows affected for claim %s: %w", id, err)
	}
	if n == 0 {
		// Another process won the race between the SELECT and the UPDATE.
		return nil, nil
	}

	claimed, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("store: reload claimed %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit claim %s: %w", id, err)
	}
	return claimed, nil
}

// Heartbeat stamps t_heartbeat on a RUNNING task, a no-op if it has since
// left RUNNING.
func (s *Store) Heartbeat(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET t_heartbeat = ? WHERE id = ? AND state = 'RUNNING'`, unixSeconds(now), id)
	if err != nil {
		return fmt.Errorf("store: heartbeat %s: %w", id, err)
	}
	return nil
}

// FlushOutput appends to out/err on a RUNNING task without disturbing its
// state, guarded so a finalized row is never clobbered by a late flush
// (spec.md §5 "periodic flush").
func (s *Store) FlushOutput(ctx context.Context, id, out, errText string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET out = out || ?, err = err || ? WHERE id = ? AND state = 'RUNNING'`,
		out, errText, id)
	if err != nil {
		return fmt.Errorf("store: flush output %s: %w", id, err)
	}
	return nil
}

// Finish transitions a RUNNING task to a terminal state, writing its
// result/errno/output. If the row is no longer RUNNING (e.g. it was
// already swept to UNKNOWN or externally killed) it is left untouched and
// task.ErrNotRunning is returned.
func (s *Store) Finish(ctx context.Context, id string, final task.State, errno int, out, errText string, result []byte, now time.Time) error {
	if !task.StateRunning.CanTransitionTo(final) {
		return task.ErrInvalidTransition
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = ?, errno = ?, out = out || ?, err = err || ?, result = ?, t_finished = ?
		WHERE id = ? AND state = 'RUNNING'`,
		final.String(), errno, out, errText, result, unixSeconds(now), id)
	if err != nil {
		return fmt.Errorf("store: finish %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rows affected for finish %s: %w", id, err)
	}
	if n == 0 {
		return task.ErrNotRunning
	}
	return nil
}

// SweepStale moves RUNNING tasks whose heartbeat is older than timeout to
// UNKNOWN (spec.md §8 property 5 / §7 "Lost").
func (s *Store) SweepStale(ctx context.Context, timeout time.Duration, now time.Time) (int, error) {
	cutoff := unixSeconds(now.Add(-timeout))
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET state = 'UNKNOWN' WHERE state = 'RUNNING' AND (t_heartbeat IS NULL OR t_heartbeat < ?)`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: sweep stale: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ReclassifyUnknown resolves every UNKNOWN task per the owning provider's
// killed_at_timeout policy (spec.md §4.6: "The scheduler honors this on
// UNKNOWN sweep"): when killedAtTimeout is true a lost slot is not
// reusable, so the row becomes terminal KILLED; otherwise it is requeued
// to PENDING (clearing result/ownership) for an idempotent workload to
// pick back up.
func (s *Store) ReclassifyUnknown(ctx context.Context, killedAtTimeout bool, now time.Time) (int, error) {
	if killedAtTimeout {
		res, err := s.db.ExecContext(ctx, `
			UPDATE tasks SET state = 'KILLED', t_finished = ?
			WHERE state = 'UNKNOWN'`, unixSeconds(now))
		if err != nil {
			return 0, fmt.Errorf("store: reclassify unknown to killed: %w", err)
		}
		n, err := res.RowsAffected()
		return int(n), err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = 'PENDING', result = NULL, errno = 0, out = '', err = '', jobid = '',
			t_started = NULL, t_finished = NULL, t_heartbeat = NULL
		WHERE state = 'UNKNOWN'`)
	if err != nil {
		return 0, fmt.Errorf("store: reclassify unknown to pending: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Retry bulk-transitions every task currently in fromState to PENDING
// (spec.md §6 CLI `retry --state S`). A fromState of RUNNING is a no-op
// that returns 0: rows held by a worker are never re-queued.
func (s *Store) Retry(ctx context.Context, fromState task.State) (int, error) {
	if fromState == task.StateRunning {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = 'PENDING', result = NULL, errno = 0, out = '', err = '', jobid = '',
			t_started = NULL, t_finished = NULL, t_heartbeat = NULL
		WHERE state = ?`, fromState.String())
	if err != nil {
		return 0, fmt.Errorf("store: retry from %s: %w", fromState, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RetryOne resets a single non-RUNNING task back to PENDING (or to
// WAITING if it has dependency edges, for ActivateReady to promote),
// clearing its result and ownership fields. Used by the "name" reuse policy (spec.md
// §3 App) to force a fresh run of a row a prior call matched by identity
// but whose state fell outside the caller's requested reuse state.
func (s *Store) RetryOne(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET
			state = CASE WHEN EXISTS(SELECT 1 FROM task_deps WHERE task_id = tasks.id) THEN 'WAITING' ELSE 'PENDING' END,
			result = NULL, errno = 0, out = '', err = '', jobid = '',
			t_started = NULL, t_finished = NULL, t_heartbeat = NULL
		WHERE id = ? AND state != 'RUNNING'`, id)
	if err != nil {
		return false, fmt.Errorf("store: retry one %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Kill marks every non-terminal task KILLED. Idempotent: a second call
// with nothing left to kill affects zero rows.
func (s *Store) Kill(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET state = 'KILLED', t_finished = ?
		WHERE state NOT IN ('SUCCEEDED', 'FAILED', 'KILLED')`, unixSeconds(now))
	if err != nil {
		return 0, fmt.Errorf("store: kill: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// List returns every task, optionally filtered to a single state.
func (s *Store) List(ctx context.Context, filter *task.State) ([]*task.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if filter != nil {
		query += ` WHERE state = ?`
		args = append(args, filter.String())
	}
	query += ` ORDER BY t_created`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan list row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// StateCounts returns the number of tasks in each state, for `desipipe
// queues` and the scheduler's gauge updates.
func (s *Store) StateCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("store: state counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("store: scan state count: %w", err)
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

// Size returns the total number of task rows in the queue.
func (s *Store) Size(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: size: %w", err)
	}
	return n, nil
}
