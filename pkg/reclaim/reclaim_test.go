package reclaim_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vortexdock/pkg/reclaim"
	"github.com/cuemby/vortexdock/pkg/store"
	"github.com/cuemby/vortexdock/pkg/types"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "vortexdock.db"))
	require.NoError(t, err)
	require.NoError(t, s.Init())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSweep_RequeuesExpiredLease(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(
		&types.Task{ID: "sweep1", Params: types.DockingParams{NumModes: 9, EnergyRange: 3, CPU: 1}},
		[]*types.WorkItem{{LigandID: "lig1", LigandFile: "lig1.pdbqt"}},
	))
	_, err := s.LeaseNextWorkItem()
	require.NoError(t, err)

	r := reclaim.New(s, reclaim.Config{Interval: time.Hour, LeaseTimeout: 0, MaxRetries: 3})
	require.NoError(t, r.Sweep())

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.NotNil(t, lease)
	require.Equal(t, "lig1", lease.LigandID)
}

func TestSweep_LeavesFreshLeaseAlone(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateTask(
		&types.Task{ID: "sweep2", Params: types.DockingParams{NumModes: 9, EnergyRange: 3, CPU: 1}},
		[]*types.WorkItem{{LigandID: "lig1", LigandFile: "lig1.pdbqt"}},
	))
	_, err := s.LeaseNextWorkItem()
	require.NoError(t, err)

	r := reclaim.New(s, reclaim.Config{Interval: time.Hour, LeaseTimeout: time.Hour, MaxRetries: 3})
	require.NoError(t, r.Sweep())

	lease, err := s.LeaseNextWorkItem()
	require.NoError(t, err)
	require.Nil(t, lease)
}

func TestStartStop_DoesNotPanic(t *testing.T) {
	s := newTestStore(t)
	r := reclaim.New(s, reclaim.Config{Interval: 10 * time.Millisecond, LeaseTimeout: time.Hour, MaxRetries: 3})
	r.Start()
	time.Sleep(25 * time.Millisecond)
	r.Stop()
}
