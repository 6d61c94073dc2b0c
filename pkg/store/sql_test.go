package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vortexdock/pkg/store"
	"github.com/cuemby/vortexdock/pkg/types"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vortexdock.db")
	s, err := store.NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Init())
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTask(t *testing.T, s store.Store, id string, ligandIDs ...string) {
	t.Helper()
	items := make([]*types.WorkItem, 0, len(ligandIDs))
	for _, lid := range ligandIDs {
		items = append(items, &types.WorkItem{LigandID: lid, LigandFile: lid + ".pdbqt"})
	}
	task := &types.Task{ID: id, Params: types.DockingParams{NumModes: 9, EnergyRange: 3, CPU: 1}}
	require.NoError(t, s.CreateTask(task, items))
}

func TestLeaseNextWorkItem_NoTasks(t *testing.T) {
	s := newTestStore(t)
	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.Nil(t, lease)
}

func TestLeaseNextWorkItem_SingleLigandLeasedOnce(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t1", "lig1")

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "lig1", lease.LigandID)

	// The same ligand must not be handed out a second time while it is
	// still processing (P1: at-most-one-lease-per-work-item).
	again, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestSubmitResult_CompletesTaskWhenLastLigandDone(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t2", "lig1")

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.NotNil(t, lease)

	require.NoError(t, s.SubmitResult("t2", "lig1", "lig1_out.pdbqt", true))

	tasks, err := s.ListTasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, types.TaskCompleted, tasks[0].Status)
}

func TestSubmitResult_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t3", "lig1")
	_, err := s.LeaseNextWorkItem()
	require.NoError(t, err)

	require.NoError(t, s.SubmitResult("t3", "lig1", "out.pdbqt", true))
	// A duplicate submission for an already-terminal ligand must not error
	// and must not corrupt state (P6).
	require.NoError(t, s.SubmitResult("t3", "lig1", "out.pdbqt", true))

	progress, err := s.TaskProgress("t3")
	require.NoError(t, err)
	require.Equal(t, 1, progress.Completed)
}

func TestSubmitResult_ExplicitFailure_ReclaimRevivesUnderBudget(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t4", "lig1")

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.NotNil(t, lease)
	// An explicit failure report sets the ligand straight to failed; it is
	// not re-queued until the reclaimer's timeout sweep re-examines it.
	require.NoError(t, s.SubmitResult("t4", "lig1", "", false))

	lease, err = s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.Nil(t, lease)

	// Once the cooldown elapses, the reclaimer revives it under budget.
	require.NoError(t, s.ReclaimExpiredLeases(0, 3))
	lease, err = s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "lig1", lease.LigandID)
}

func TestReclaim_RetryBudgetExhausted(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t4b", "lig1")

	for i := 0; i < 2; i++ {
		lease, err := s.LeaseNextWorkItem()
		require.NoError(t, err)
		require.NotNil(t, lease)
		require.NoError(t, s.SubmitResult("t4b", "lig1", "", false))
		require.NoError(t, s.ReclaimExpiredLeases(0, 2))
	}

	// Retry count (3) is now past the budget of 2: the ligand is permanently
	// failed and no further lease is available (P2, P4).
	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.Nil(t, lease)

	progress, err := s.TaskProgress("t4b")
	require.NoError(t, err)
	require.Equal(t, 1, progress.Failed)
	require.Equal(t, types.TaskCompleted, progress.Task.Status)
}

func TestReclaimExpiredLeases_RequeuesAbandonedWork(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t5", "lig1")

	_, err := s.LeaseNextWorkItem()
	require.NoError(t, err)

	require.NoError(t, s.ReclaimExpiredLeases(0, 3))

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "lig1", lease.LigandID)
}

func TestReclaimExpiredLeases_RespectsLeaseTimeout(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t6", "lig1")
	_, err := s.LeaseNextWorkItem()
	require.NoError(t, err)

	require.NoError(t, s.ReclaimExpiredLeases(time.Hour, 3))

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.Nil(t, lease)
}

func TestSetTaskPaused_ExcludesFromLeasing(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t7", "lig1")

	status, err := s.SetTaskPaused("t7", true)
	require.NoError(t, err)
	require.Equal(t, types.TaskPaused, status)

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.Nil(t, lease)

	status, err = s.SetTaskPaused("t7", false)
	require.NoError(t, err)
	require.Equal(t, types.TaskPending, status)

	lease, err = s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.NotNil(t, lease)
}

func TestDeleteTask_DropsLigandsTable(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t8", "lig1")

	require.NoError(t, s.DeleteTask("t8"))
	_, err := s.TaskProgress("t8")
	require.ErrorIs(t, err, store.ErrTaskNotFound)
}

func TestCreateTask_RejectsUnsafeID(t *testing.T) {
	s := newTestStore(t)
	task := &types.Task{ID: "../etc"}
	err := s.CreateTask(task, nil)
	require.ErrorIs(t, err, store.ErrInvalidTaskID)
}

func TestSetPassword_AndLatestHash(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.LatestPasswordHash()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.SetPassword("hash-one"))
	require.NoError(t, s.SetPassword("hash-two"))

	hash, ok, err := s.LatestPasswordHash()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hash-two", hash)
}

func TestResetProcessingToPending(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t9", "lig1")
	_, err := s.LeaseNextWorkItem()
	require.NoError(t, err)

	require.NoError(t, s.ResetProcessingToPending())

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.NotNil(t, lease)
}

func TestRecordHeartbeat(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.RecordHeartbeat(types.HeartbeatSample{
		ClientAddr: "10.0.0.1:5000", CPUUsage: 0.5, MemoryUsage: 0.2, LastHeartbeat: time.Now(),
	}))
	// A second heartbeat from the same node replaces, not accumulates.
	require.NoError(t, s.RecordHeartbeat(types.HeartbeatSample{
		ClientAddr: "10.0.0.1:5000", CPUUsage: 0.9, MemoryUsage: 0.4, LastHeartbeat: time.Now(),
	}))
}
