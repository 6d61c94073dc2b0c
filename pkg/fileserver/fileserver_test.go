package fileserver_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/vortexdock/pkg/fileserver"
)

func TestDownload_ReceptorFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tasks", "t1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tasks", "t1", "receptor.pdbqt"), []byte("RECEPTOR"), 0o644))

	srv := fileserver.New(root)
	req := httptest.NewRequest(http.MethodGet, "/download/t1/receptor.pdbqt", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "RECEPTOR", rec.Body.String())
}

func TestDownload_LigandFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tasks", "t1", "ligands"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tasks", "t1", "ligands", "lig1.pdbqt"), []byte("LIGAND"), 0o644))

	srv := fileserver.New(root)
	req := httptest.NewRequest(http.MethodGet, "/download/t1/lig1.pdbqt", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "LIGAND", rec.Body.String())
}

func TestDownload_MissingFileReturns404(t *testing.T) {
	root := t.TempDir()
	srv := fileserver.New(root)
	req := httptest.NewRequest(http.MethodGet, "/download/t1/receptor.pdbqt", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownload_UnsupportedExtensionReturns404(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tasks", "t1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tasks", "t1", "secrets.env"), []byte("x"), 0o644))

	srv := fileserver.New(root)
	req := httptest.NewRequest(http.MethodGet, "/download/t1/secrets.env", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDownload_PathTraversalRejected(t *testing.T) {
	root := t.TempDir()
	outside := filepath.Join(filepath.Dir(root), "outside-secret.pdbqt")
	require.NoError(t, os.WriteFile(outside, []byte("SECRET"), 0o644))
	t.Cleanup(func() { os.Remove(outside) })

	srv := fileserver.New(root)
	// net/http's ServeMux canonicalizes "..", so construct the request with
	// a raw path that still carries it through to our handler's PathValue.
	req := httptest.NewRequest(http.MethodGet, "/download/t1/..%2f..%2foutside-secret.pdbqt", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}

func TestUpload_WritesToResultsDirLazily(t *testing.T) {
	root := t.TempDir()
	srv := fileserver.New(root)

	req := httptest.NewRequest(http.MethodPost, "/upload/result/t1/lig1_out.pdbqt", strings.NewReader("OUTPUT"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	data, err := os.ReadFile(filepath.Join(root, "results", "t1", "lig1_out.pdbqt"))
	require.NoError(t, err)
	require.Equal(t, "OUTPUT", string(data))
}

func TestUpload_RejectsUnsafeTaskID(t *testing.T) {
	root := t.TempDir()
	srv := fileserver.New(root)

	req := httptest.NewRequest(http.MethodPost, "/upload/result/..%2f..%2f/out.pdbqt", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.NotEqual(t, http.StatusOK, rec.Code)
}
