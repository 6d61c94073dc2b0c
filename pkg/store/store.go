// Package store is the relational persistence layer for the dispatch
// server. It is the single source of truth for task and work-item state;
// the dispatcher and reclaimer hold no cached copies across transactions.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/cuemby/vortexdock/pkg/types"
)

// taskIDPattern constrains task ids to characters that are safe to compose
// directly into a table name (task_<id>_ligands). Enforced once, here, at
// every entry point that accepts a caller-supplied task id for creation —
// not left to callers building SQL elsewhere.
var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Sentinel errors returned by Store methods. Callers (dispatch, reclaim,
// the CLI) compare against these with errors.Is rather than string matching.
var (
	ErrTaskNotFound     = errors.New("store: task not found")
	ErrWorkItemNotFound = errors.New("store: work item not found")
	ErrInvalidTaskID    = errors.New("store: task id must match [A-Za-z0-9_]+")
	ErrNoTasks          = errors.New("store: no eligible tasks")
)

// ValidateTaskID reports whether id is safe to compose into a per-task
// table name.
func ValidateTaskID(id string) error {
	if id == "" || !taskIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, id)
	}
	return nil
}

func ligandsTable(taskID string) string {
	return "task_" + taskID + "_ligands"
}

// TaskProgress summarizes a task's completion for the monitoring dashboard
// and the CLI's `list` subcommand. Never consulted by the lease logic.
type TaskProgress struct {
	Task            *types.Task
	Total           int
	Completed       int
	Failed          int
	RecentCompleted int // completed within the last 5 minutes
}

// Store is the storage interface consumed by the dispatcher, the
// reclaimer, the authenticator, and the admin CLI.
type Store interface {
	// Init creates the fixed tables (tasks, server_auth, node_heartbeats)
	// and the per-task ligand table for every existing task row. Safe to
	// call on every boot.
	Init() error
	Close() error

	// Authentication
	LatestPasswordHash() (hash string, ok bool, err error)
	SetPassword(bcryptHash string) error

	// Task admin mutations
	CreateTask(task *types.Task, items []*types.WorkItem) error
	DeleteTask(taskID string) error
	SetTaskPaused(taskID string, paused bool) (types.TaskStatus, error)
	ListTasks() ([]*types.Task, error)
	TaskProgress(taskID string) (*TaskProgress, error)

	// Dispatch protocol.
	LeaseNextWorkItem() (*types.TaskLease, error)
	SubmitResult(taskID, ligandID, outputFile string, completed bool) error
	RecordHeartbeat(sample types.HeartbeatSample) error

	// Reclaimer
	ReclaimExpiredLeases(leaseTimeout time.Duration, maxRetries int) error

	// Admin resets
	ResetHeartbeats() error
	ResetProcessingToPending() error
	ResetFailedToPending() error
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting helper
// functions build statements without caring which one they're given.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}
