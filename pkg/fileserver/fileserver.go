// Package fileserver implements the plain-HTTP download/upload endpoint
// that moves receptor, ligand, and result files alongside the TLS command
// channel. It carries no authentication of its own — the file channel is
// protected by network placement, per the deployment model.
package fileserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/vortexdock/pkg/log"
	"github.com/cuemby/vortexdock/pkg/metrics"
)

// Server serves files out of a root directory laid out as:
//
//	tasks/<task_id>/receptor.pdbqt
//	tasks/<task_id>/ligands/<ligand_file>
//	results/<task_id>/<filename>
type Server struct {
	root string
	mux  *http.ServeMux
}

// New builds a Server rooted at root. root must already contain (or will
// come to contain) the tasks/ and results/ subdirectories; results/ is
// created lazily per task on first upload.
func New(root string) *Server {
	s := &Server{root: root, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /download/{task_id}/{filename}", s.handleDownload)
	s.mux.HandleFunc("POST /upload/result/{task_id}/{filename}", s.handleUpload)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// safeSegment rejects anything that could escape the intended directory
// once joined with filepath.Join: path separators, the empty string, and
// "." / ".." components.
func safeSegment(seg string) bool {
	if seg == "" || seg == "." || seg == ".." {
		return false
	}
	return !strings.ContainsAny(seg, "/\\")
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	filename := r.PathValue("filename")
	logger := log.WithComponent("fileserver")

	if !safeSegment(taskID) || !safeSegment(filename) {
		metrics.FileDownloadsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "invalid path", http.StatusNotFound)
		return
	}

	var path string
	switch {
	case filename == "receptor.pdbqt":
		path = filepath.Join(s.root, "tasks", taskID, filename)
	case strings.HasSuffix(filename, ".pdbqt"):
		path = filepath.Join(s.root, "tasks", taskID, "ligands", filename)
	default:
		metrics.FileDownloadsTotal.WithLabelValues("unsupported").Inc()
		http.Error(w, "unsupported file type", http.StatusNotFound)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		metrics.FileDownloadsTotal.WithLabelValues("not_found").Inc()
		if !errors.Is(err, os.ErrNotExist) {
			logger.Error().Err(err).Str("path", path).Msg("download open failed")
		}
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		metrics.FileDownloadsTotal.WithLabelValues("error").Inc()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.FileDownloadsTotal.WithLabelValues("ok").Inc()
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("task_id")
	filename := r.PathValue("filename")
	logger := log.WithComponent("fileserver")

	if !safeSegment(taskID) || !safeSegment(filename) {
		metrics.FileUploadsTotal.WithLabelValues("rejected").Inc()
		http.Error(w, "invalid path", http.StatusNotFound)
		return
	}

	resultDir := filepath.Join(s.root, "results", taskID)
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		metrics.FileUploadsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Str("dir", resultDir).Msg("mkdir failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	dst, err := os.Create(filepath.Join(resultDir, filename))
	if err != nil {
		metrics.FileUploadsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("create result file failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer dst.Close()

	if _, err := io.Copy(dst, r.Body); err != nil {
		metrics.FileUploadsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("write result file failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	metrics.FileUploadsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
