// Package types defines the data model shared across the dispatch server:
// tasks, work items, leases, and heartbeat samples.
package types

import (
	"database/sql"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskPaused     TaskStatus = "paused"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// WorkItemStatus is the lifecycle state of a WorkItem (one ligand).
type WorkItemStatus string

const (
	WorkItemPending    WorkItemStatus = "pending"
	WorkItemProcessing WorkItemStatus = "processing"
	WorkItemCompleted  WorkItemStatus = "completed"
	WorkItemFailed     WorkItemStatus = "failed"
)

// DockingParams holds the AutoDock Vina-style parameters shared by every
// work item in a task.
type DockingParams struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	CenterZ float64 `json:"center_z"`
	SizeX   float64 `json:"size_x"`
	SizeY   float64 `json:"size_y"`
	SizeZ   float64 `json:"size_z"`

	NumModes    int     `json:"num_modes"`
	EnergyRange float64 `json:"energy_range"`
	CPU         int     `json:"cpu"`
}

// Task is a batch of docking computations against one receptor.
type Task struct {
	ID          string
	Status      TaskStatus
	Params      DockingParams
	CreatedAt   time.Time
	LastUpdated time.Time
}

// WorkItem is one ligand to dock within a Task.
type WorkItem struct {
	TaskID      string
	LigandID    string
	LigandFile  string
	Status      WorkItemStatus
	RetryCount  int
	OutputFile  sql.NullString
	CreatedAt   time.Time
	LastUpdated time.Time
}

// TaskLease is the payload handed back to a compute node on a successful
// get_task lease.
type TaskLease struct {
	TaskID     string        `json:"task_id"`
	LigandID   string        `json:"ligand_id"`
	LigandFile string        `json:"ligand_file"`
	Params     DockingParams `json:"params"`
}

// HeartbeatSample is one liveness/capacity telemetry point. It is retained
// for dashboard reporting only and is never consulted by the lease logic.
type HeartbeatSample struct {
	ClientAddr    string
	CPUUsage      float64
	MemoryUsage   float64
	LastHeartbeat time.Time
}
