// Package dispatch implements the per-connection command handler for the
// secure framed channel: authentication, get_task, submit_result, and
// heartbeat.
package dispatch

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/vortexdock/pkg/auth"
	"github.com/cuemby/vortexdock/pkg/framing"
	"github.com/cuemby/vortexdock/pkg/log"
	"github.com/cuemby/vortexdock/pkg/metrics"
	"github.com/cuemby/vortexdock/pkg/store"
	"github.com/cuemby/vortexdock/pkg/types"
)

// frame is the envelope every client-to-server message arrives in. Only
// the fields relevant to its Type are populated by the sender.
type frame struct {
	Type        string  `json:"type"`
	Password    string  `json:"password,omitempty"`
	TaskID      string  `json:"task_id,omitempty"`
	LigandID    string  `json:"ligand_id,omitempty"`
	OutputFile  string  `json:"output_file,omitempty"`
	Status      string  `json:"status,omitempty"`
	CPUUsage    float64 `json:"cpu_usage,omitempty"`
	MemoryUsage float64 `json:"memory_usage,omitempty"`
}

// statusReply is the {status: "ok"|"error"} shape used by auth, heartbeat,
// and submit_result.
type statusReply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// taskReply is get_task's reply shape. TaskID has no omitempty: the nil
// case must still serialize as the literal {"task_id": null} the spec
// requires, not an absent key.
type taskReply struct {
	TaskID     *string              `json:"task_id"`
	LigandID   string               `json:"ligand_id,omitempty"`
	LigandFile string               `json:"ligand_file,omitempty"`
	Params     *types.DockingParams `json:"params,omitempty"`
}

// DefaultIdleTimeout bounds how long a connection may sit between frames
// before Serve gives up on it. Used when New is given a zero duration.
const DefaultIdleTimeout = 5 * time.Minute

// Handler dispatches frames on one authenticated connection to the store.
type Handler struct {
	store       store.Store
	auth        *auth.Authenticator
	idleTimeout time.Duration
}

// New builds a Handler. idleTimeout bounds how long Serve will block
// waiting for the next frame (including the initial auth frame) before
// closing the connection; a zero value uses DefaultIdleTimeout. Without
// this, a peer that vanishes without sending FIN/RST (a half-open TCP
// connection) would block its goroutine forever inside framing.Receive.
func New(s store.Store, idleTimeout time.Duration) *Handler {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Handler{store: s, auth: auth.New(s), idleTimeout: idleTimeout}
}

// Serve runs the connection's full lifecycle: authenticate, then loop
// reading and replying to frames until the peer disconnects or a
// transport error occurs. It returns nil for a clean disconnect; an
// authentication rejection, a first frame that is not auth, an idle-read
// timeout and any other transport error are returned for logging by the
// caller.
func (h *Handler) Serve(conn net.Conn) error {
	remote := conn.RemoteAddr().String()
	logger := log.WithComponent("dispatch").With().Str("remote_addr", remote).Str("conn_id", uuid.NewString()).Logger()

	metrics.DispatchConnectionsActive.Inc()
	defer metrics.DispatchConnectionsActive.Dec()

	fc := framing.New(conn)

	_ = conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
	if err := h.authenticate(fc, logger); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(h.idleTimeout))
		var f frame
		if err := fc.Receive(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		timer := metrics.NewTimer()
		resp := h.handle(&f, remote, logger)
		timer.ObserveDurationVec(metrics.DispatchRequestDuration, f.Type)

		if err := fc.Send(resp); err != nil {
			return err
		}
	}
}

func (h *Handler) authenticate(fc *framing.Conn, logger zerolog.Logger) error {
	var f frame
	if err := fc.Receive(&f); err != nil {
		return err
	}
	if f.Type != "auth" {
		_ = fc.Send(statusReply{Status: "error", Message: "expected auth frame"})
		return errors.New("dispatch: first frame was not auth")
	}

	ok, err := h.auth.Verify(f.Password)
	if err != nil && !errors.Is(err, auth.ErrNoPasswordSet) {
		logger.Error().Err(err).Msg("auth check failed")
		_ = fc.Send(statusReply{Status: "error", Message: "internal error"})
		return err
	}
	if !ok {
		metrics.DispatchAuthFailuresTotal.Inc()
		logger.Warn().Msg("authentication rejected")
		_ = fc.Send(statusReply{Status: "error", Message: "authentication failed"})
		return errors.New("dispatch: authentication rejected")
	}

	logger.Info().Msg("connection authenticated")
	return fc.Send(statusReply{Status: "ok"})
}

func (h *Handler) handle(f *frame, remote string, logger zerolog.Logger) any {
	switch f.Type {
	case "get_task":
		return h.handleGetTask(logger)
	case "submit_result":
		return h.handleSubmitResult(f, logger)
	case "heartbeat":
		return h.handleHeartbeat(f, remote, logger)
	default:
		logger.Warn().Str("frame_type", f.Type).Msg("unrecognized frame type")
		return statusReply{Status: "error", Message: "unrecognized frame type"}
	}
}

func (h *Handler) handleGetTask(logger zerolog.Logger) any {
	lease, err := h.store.LeaseNextWorkItem()
	if err != nil {
		logger.Error().Err(err).Msg("get_task failed")
		return statusReply{Status: "error", Message: "internal error"}
	}
	if lease == nil {
		return taskReply{TaskID: nil}
	}

	metrics.LeasesGrantedTotal.Inc()
	logger.Info().Str("task_id", lease.TaskID).Str("ligand_id", lease.LigandID).Msg("lease granted")
	return taskReply{
		TaskID:     &lease.TaskID,
		LigandID:   lease.LigandID,
		LigandFile: lease.LigandFile,
		Params:     &lease.Params,
	}
}

func (h *Handler) handleSubmitResult(f *frame, logger zerolog.Logger) statusReply {
	completed := f.Status != "failed"
	outcome := "completed"
	if !completed {
		outcome = "failed"
	}

	if err := h.store.SubmitResult(f.TaskID, f.LigandID, f.OutputFile, completed); err != nil {
		metrics.ResultsSubmittedTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Str("task_id", f.TaskID).Str("ligand_id", f.LigandID).Msg("submit_result failed")
		return statusReply{Status: "error", Message: "internal error"}
	}

	metrics.ResultsSubmittedTotal.WithLabelValues(outcome).Inc()
	logger.Info().Str("task_id", f.TaskID).Str("ligand_id", f.LigandID).Str("outcome", outcome).Msg("result submitted")
	return statusReply{Status: "ok"}
}

func (h *Handler) handleHeartbeat(f *frame, remote string, logger zerolog.Logger) statusReply {
	sample := types.HeartbeatSample{
		ClientAddr:    remote,
		CPUUsage:      f.CPUUsage,
		MemoryUsage:   f.MemoryUsage,
		LastHeartbeat: time.Now().UTC(),
	}
	if err := h.store.RecordHeartbeat(sample); err != nil {
		logger.Error().Err(err).Msg("heartbeat failed")
		return statusReply{Status: "error", Message: "internal error"}
	}
	metrics.HeartbeatsReceivedTotal.Inc()
	return statusReply{Status: "ok"}
}
