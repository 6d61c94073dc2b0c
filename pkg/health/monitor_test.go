package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTCPChecker_HealthyWhenListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	checker := NewTCPChecker(ln.Addr().String())
	result := checker.Check(context.Background())
	require.True(t, result.Healthy)
}

func TestTCPChecker_UnhealthyWhenNothingListening(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	checker := NewTCPChecker(addr).WithTimeout(200 * time.Millisecond)
	result := checker.Check(context.Background())
	require.False(t, result.Healthy)
}

func TestMonitor_FiresOnChangeAfterConsecutiveFailures(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	checker := NewTCPChecker(addr).WithTimeout(100 * time.Millisecond)
	changes := make(chan Status, 8)
	m := NewMonitor(checker, Config{
		Interval: 10 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
		Retries:  2,
	}, func(s Status) { changes <- s })

	m.Start()
	defer m.Stop()

	select {
	case s := <-changes:
		t.Fatalf("unexpected change while backend is healthy: %+v", s)
	case <-time.After(30 * time.Millisecond):
	}

	ln.Close()

	select {
	case s := <-changes:
		require.False(t, s.Healthy)
		require.GreaterOrEqual(t, s.ConsecutiveFailures, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unhealthy transition")
	}
}
