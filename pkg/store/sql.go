package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/cuemby/vortexdock/pkg/types"
)

// sqlStore is the database/sql-backed Store implementation shared by the
// SQLite and MySQL constructors; only schema syntax and locking strategy
// differ between the two, and those differences are isolated in dialect.
type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) Init() error {
	for _, stmt := range []string{
		s.d.createTasksTable(),
		s.d.createAuthTable(),
		s.d.createHeartbeatsTable(),
	} {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}

	rows, err := s.db.Query(`SELECT id FROM tasks`)
	if err != nil {
		return fmt.Errorf("store: init: list tasks: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("store: init: scan task id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := s.db.Exec(s.d.createLigandsTable(ligandsTable(id))); err != nil {
			return fmt.Errorf("store: init: ligands table for %s: %w", id, err)
		}
	}
	return nil
}

func (s *sqlStore) LatestPasswordHash() (string, bool, error) {
	var hash string
	err := s.db.QueryRow(`SELECT password_hash FROM server_auth ORDER BY id DESC LIMIT 1`).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: latest password hash: %w", err)
	}
	return hash, true, nil
}

func (s *sqlStore) SetPassword(bcryptHash string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM server_auth`); err != nil {
		return fmt.Errorf("store: set password: clear: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO server_auth (password_hash, created_at) VALUES (?, ?)`,
		bcryptHash, time.Now().UTC()); err != nil {
		return fmt.Errorf("store: set password: insert: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) CreateTask(task *types.Task, items []*types.WorkItem) error {
	if err := ValidateTaskID(task.ID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	p := task.Params
	if _, err := tx.Exec(`INSERT INTO tasks
		(id, status, center_x, center_y, center_z, size_x, size_y, size_z, num_modes, energy_range, cpu, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, types.TaskPending,
		p.CenterX, p.CenterY, p.CenterZ, p.SizeX, p.SizeY, p.SizeZ,
		p.NumModes, p.EnergyRange, p.CPU, now, now); err != nil {
		return fmt.Errorf("store: create task: %w", err)
	}

	table := ligandsTable(task.ID)
	if _, err := tx.Exec(s.d.createLigandsTable(table)); err != nil {
		return fmt.Errorf("store: create task: ligands table: %w", err)
	}
	for _, item := range items {
		if _, err := tx.Exec(`INSERT INTO `+table+
			` (ligand_id, ligand_file, status, retry_count, created_at, last_updated)
			VALUES (?, ?, ?, 0, ?, ?)`,
			item.LigandID, item.LigandFile, types.WorkItemPending, now, now); err != nil {
			return fmt.Errorf("store: create task: insert ligand %s: %w", item.LigandID, err)
		}
	}
	return tx.Commit()
}

func (s *sqlStore) DeleteTask(taskID string) error {
	if err := ValidateTaskID(taskID); err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("store: delete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrTaskNotFound
	}
	if _, err := tx.Exec(`DROP TABLE IF EXISTS ` + ligandsTable(taskID)); err != nil {
		return fmt.Errorf("store: delete task: drop ligands table: %w", err)
	}
	return tx.Commit()
}

func (s *sqlStore) SetTaskPaused(taskID string, paused bool) (types.TaskStatus, error) {
	newStatus := types.TaskPending
	if paused {
		newStatus = types.TaskPaused
	}
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, last_updated = ?
		WHERE id = ? AND status IN (?, ?)`,
		newStatus, time.Now().UTC(), taskID, types.TaskPending, types.TaskPaused)
	if err != nil {
		return "", fmt.Errorf("store: set task paused: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrTaskNotFound
	}
	return newStatus, nil
}

func (s *sqlStore) ListTasks() ([]*types.Task, error) {
	rows, err := s.db.Query(`SELECT id, status, center_x, center_y, center_z, size_x, size_y, size_z,
		num_modes, energy_range, cpu, created_at, last_updated FROM tasks ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*types.Task
	for rows.Next() {
		t := &types.Task{}
		p := &t.Params
		if err := rows.Scan(&t.ID, &t.Status, &p.CenterX, &p.CenterY, &p.CenterZ,
			&p.SizeX, &p.SizeY, &p.SizeZ, &p.NumModes, &p.EnergyRange, &p.CPU,
			&t.CreatedAt, &t.LastUpdated); err != nil {
			return nil, fmt.Errorf("store: list tasks: scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *sqlStore) TaskProgress(taskID string) (*TaskProgress, error) {
	if err := ValidateTaskID(taskID); err != nil {
		return nil, err
	}
	tasks, err := s.ListTasks()
	if err != nil {
		return nil, err
	}
	var task *types.Task
	for _, t := range tasks {
		if t.ID == taskID {
			task = t
			break
		}
	}
	if task == nil {
		return nil, ErrTaskNotFound
	}

	table := ligandsTable(taskID)
	progress := &TaskProgress{Task: task}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&progress.Total); err != nil {
		return nil, fmt.Errorf("store: task progress: total: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE status = ?`,
		types.WorkItemCompleted).Scan(&progress.Completed); err != nil {
		return nil, fmt.Errorf("store: task progress: completed: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE status = ?`,
		types.WorkItemFailed).Scan(&progress.Failed); err != nil {
		return nil, fmt.Errorf("store: task progress: failed: %w", err)
	}
	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE status = ? AND last_updated >= ?`,
		types.WorkItemCompleted, cutoff).Scan(&progress.RecentCompleted); err != nil {
		return nil, fmt.Errorf("store: task progress: recent completed: %w", err)
	}
	return progress, nil
}

// LeaseNextWorkItem implements the get_task algorithm: scan eligible tasks
// in order, and within the first one that has a pending ligand, lease it
// under the dialect's locking strategy. If a task has no pending or
// processing ligands and no failed ligand left (this path cannot judge a
// failed ligand's retry budget) it is promoted to completed in passing, but the
// promotion here is best-effort only — the reclaimer is the authority that
// guarantees every finished task eventually reaches completed, since a
// racing submit_result could complete the very last processing item after
// this scan already passed it over.
func (s *sqlStore) LeaseNextWorkItem() (*types.TaskLease, error) {
	// processing tasks are tried before pending ones (concentrates workers
	// on tasks already in flight, reducing the number of live tasks), tied
	// broken by creation order.
	tasks, err := s.db.Query(`SELECT id FROM tasks WHERE status IN (?, ?)
		ORDER BY CASE status WHEN ? THEN 0 ELSE 1 END, created_at`,
		types.TaskPending, types.TaskProcessing, types.TaskProcessing)
	if err != nil {
		return nil, fmt.Errorf("store: lease: list candidate tasks: %w", err)
	}
	var taskIDs []string
	for tasks.Next() {
		var id string
		if err := tasks.Scan(&id); err != nil {
			tasks.Close()
			return nil, err
		}
		taskIDs = append(taskIDs, id)
	}
	tasks.Close()
	if err := tasks.Err(); err != nil {
		return nil, err
	}

	for _, taskID := range taskIDs {
		lease, err := s.tryLeaseFromTask(taskID)
		if err != nil {
			return nil, err
		}
		if lease != nil {
			return lease, nil
		}
	}
	return nil, nil
}

func (s *sqlStore) tryLeaseFromTask(taskID string) (*types.TaskLease, error) {
	table := ligandsTable(taskID)
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: s.d.leaseIsolation()})
	if err != nil {
		return nil, fmt.Errorf("store: lease: begin: %w", err)
	}
	defer tx.Rollback()

	var ligandID, ligandFile string
	var retryCount int
	err = tx.QueryRow(s.d.selectPendingForUpdate(table)).Scan(&ligandID, &ligandFile, &retryCount)
	if err == sql.ErrNoRows {
		if err := s.maybeCompleteTaskLocked(tx, taskID, table, math.MaxInt32); err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	}
	if err != nil {
		return nil, fmt.Errorf("store: lease: select pending: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(`UPDATE `+table+` SET status = ?, last_updated = ? WHERE ligand_id = ?`,
		types.WorkItemProcessing, now, ligandID); err != nil {
		return nil, fmt.Errorf("store: lease: mark processing: %w", err)
	}
	if _, err := tx.Exec(`UPDATE tasks SET status = ?, last_updated = ? WHERE id = ? AND status = ?`,
		types.TaskProcessing, now, taskID, types.TaskPending); err != nil {
		return nil, fmt.Errorf("store: lease: mark task processing: %w", err)
	}

	var params types.DockingParams
	if err := tx.QueryRow(`SELECT center_x, center_y, center_z, size_x, size_y, size_z,
		num_modes, energy_range, cpu FROM tasks WHERE id = ?`, taskID).Scan(
		&params.CenterX, &params.CenterY, &params.CenterZ,
		&params.SizeX, &params.SizeY, &params.SizeZ,
		&params.NumModes, &params.EnergyRange, &params.CPU); err != nil {
		return nil, fmt.Errorf("store: lease: read params: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &types.TaskLease{TaskID: taskID, LigandID: ligandID, LigandFile: ligandFile, Params: params}, nil
}

// maybeCompleteTaskLocked promotes a task to completed when its ligand
// table has nothing left pending or processing and no failed row whose
// retry_count is below retryBudget (such a row may still be requeued by
// the reclaimer). Called with tx already holding whatever lock
// selectPendingForUpdate took on the table.
func (s *sqlStore) maybeCompleteTaskLocked(tx *sql.Tx, taskID, table string, retryBudget int) error {
	var remaining int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM `+table+` WHERE status IN (?, ?) OR (status = ? AND retry_count < ?)`,
		types.WorkItemPending, types.WorkItemProcessing, types.WorkItemFailed, retryBudget).Scan(&remaining); err != nil {
		return fmt.Errorf("store: complete check: %w", err)
	}
	if remaining > 0 {
		return nil
	}
	if _, err := tx.Exec(`UPDATE tasks SET status = ?, last_updated = ? WHERE id = ?`,
		types.TaskCompleted, time.Now().UTC(), taskID); err != nil {
		return fmt.Errorf("store: complete task: %w", err)
	}
	return nil
}

// SubmitResult implements submit_result: completed marks the ligand
// completed with its output file recorded; otherwise the ligand's
// retry_count is incremented and its status set to failed unconditionally
// — whether that failure is transient or permanent is decided later, by
// the reclaimer's timeout sweep re-examining failed rows against the
// retry budget, not here. Resubmitting against an already-terminal row is
// a no-op success (idempotent completion).
func (s *sqlStore) SubmitResult(taskID, ligandID, outputFile string, completed bool) error {
	if err := ValidateTaskID(taskID); err != nil {
		return err
	}
	table := ligandsTable(taskID)
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: s.d.leaseIsolation()})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var retryCount int
	var status types.WorkItemStatus
	err = tx.QueryRow(`SELECT status, retry_count FROM `+table+` WHERE ligand_id = ?`, ligandID).
		Scan(&status, &retryCount)
	if err == sql.ErrNoRows {
		return ErrWorkItemNotFound
	}
	if err != nil {
		return fmt.Errorf("store: submit result: lookup: %w", err)
	}
	if status != types.WorkItemProcessing {
		// Already terminal (duplicate or late submission). Idempotent no-op.
		return tx.Commit()
	}

	now := time.Now().UTC()
	if completed {
		if _, err := tx.Exec(`UPDATE `+table+` SET status = ?, output_file = ?, last_updated = ? WHERE ligand_id = ?`,
			types.WorkItemCompleted, outputFile, now, ligandID); err != nil {
			return fmt.Errorf("store: submit result: complete: %w", err)
		}
		// Only a successful completion can retire the task here. An explicit
		// failure leaves a row behind whose retry budget hasn't been judged
		// yet — promoting the task now would strand it at failed forever,
		// since a completed task is never revisited by ReclaimExpiredLeases.
		// That judgment belongs to the reclaimer's timeout sweep alone.
		if err := s.maybeCompleteTaskLocked(tx, taskID, table, math.MaxInt32); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(`UPDATE `+table+` SET status = ?, retry_count = ?, last_updated = ? WHERE ligand_id = ?`,
			types.WorkItemFailed, retryCount+1, now, ligandID); err != nil {
			return fmt.Errorf("store: submit result: fail: %w", err)
		}
	}

	return tx.Commit()
}

func (s *sqlStore) RecordHeartbeat(sample types.HeartbeatSample) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM node_heartbeats WHERE client_addr = ?`, sample.ClientAddr); err != nil {
		return fmt.Errorf("store: heartbeat: clear: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO node_heartbeats (client_addr, cpu_usage, memory_usage, last_heartbeat)
		VALUES (?, ?, ?, ?)`, sample.ClientAddr, sample.CPUUsage, sample.MemoryUsage, sample.LastHeartbeat); err != nil {
		return fmt.Errorf("store: heartbeat: insert: %w", err)
	}
	return tx.Commit()
}

// ReclaimExpiredLeases re-examines every processing or failed ligand whose
// last_updated is older than leaseTimeout: back to pending (with
// retry_count incremented) if under the retry budget, permanently failed
// otherwise. Sweeping failed rows too, not just processing ones, gives
// uniform retry semantics whether a ligand's last attempt ended in a
// silent timeout or an explicit submit_result failure. Paused tasks are
// skipped — pausing stops new leases but does not retroactively touch
// leases already in flight, and a paused task has no processing items
// once its in-flight leases finish, so there is nothing for this loop to
// find there in practice.
func (s *sqlStore) ReclaimExpiredLeases(leaseTimeout time.Duration, maxRetries int) error {
	rows, err := s.db.Query(`SELECT id FROM tasks WHERE status IN (?, ?)`,
		types.TaskPending, types.TaskProcessing)
	if err != nil {
		return fmt.Errorf("store: reclaim: list tasks: %w", err)
	}
	var taskIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		taskIDs = append(taskIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-leaseTimeout)
	for _, taskID := range taskIDs {
		if err := s.reclaimTask(taskID, cutoff, maxRetries); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) reclaimTask(taskID string, cutoff time.Time, maxRetries int) error {
	table := ligandsTable(taskID)
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: s.d.leaseIsolation()})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT ligand_id, retry_count FROM `+table+` WHERE status IN (?, ?) AND last_updated < ?`,
		types.WorkItemProcessing, types.WorkItemFailed, cutoff)
	if err != nil {
		return fmt.Errorf("store: reclaim task %s: select expired: %w", taskID, err)
	}
	type expired struct {
		id    string
		count int
	}
	var items []expired
	for rows.Next() {
		var it expired
		if err := rows.Scan(&it.id, &it.count); err != nil {
			rows.Close()
			return err
		}
		items = append(items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, it := range items {
		var next types.WorkItemStatus
		count := it.count
		if it.count < maxRetries {
			next = types.WorkItemPending
			count = it.count + 1
		} else {
			next = types.WorkItemFailed
		}
		if _, err := tx.Exec(`UPDATE `+table+` SET status = ?, retry_count = ?, last_updated = ? WHERE ligand_id = ?`,
			next, count, now, it.id); err != nil {
			return fmt.Errorf("store: reclaim task %s: update %s: %w", taskID, it.id, err)
		}
	}

	if err := s.maybeCompleteTaskLocked(tx, taskID, table, maxRetries); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqlStore) ResetHeartbeats() error {
	_, err := s.db.Exec(`DELETE FROM node_heartbeats`)
	if err != nil {
		return fmt.Errorf("store: reset heartbeats: %w", err)
	}
	return nil
}

func (s *sqlStore) ResetProcessingToPending() error {
	return s.resetStatus(types.WorkItemProcessing, types.TaskProcessing, false)
}

func (s *sqlStore) ResetFailedToPending() error {
	return s.resetStatus(types.WorkItemFailed, types.TaskFailed, true)
}

// resetStatus is the shared body of the admin reset-processing and
// reset-failed mutations: every matching ligand across every task goes
// back to pending, and any task left with no other non-terminal ligands
// follows it back to pending too.
func (s *sqlStore) resetStatus(from types.WorkItemStatus, taskFrom types.TaskStatus, clearRetry bool) error {
	tasks, err := s.ListTasks()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range tasks {
		table := ligandsTable(t.ID)
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		query := `UPDATE ` + table + ` SET status = ?, last_updated = ?`
		if clearRetry {
			query += `, retry_count = 0`
		}
		query += ` WHERE status = ?`
		if _, err := tx.Exec(query, types.WorkItemPending, now, from); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: reset %s: %w", from, err)
		}
		if _, err := tx.Exec(`UPDATE tasks SET status = ?, last_updated = ? WHERE id = ? AND status = ?`,
			types.TaskPending, now, t.ID, taskFrom); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: reset %s: task: %w", from, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}
