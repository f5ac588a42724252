package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsnet/roost/pkg/contentstore"
	"github.com/dwsnet/roost/pkg/types"
)

// memStore keeps uploaded dumps in memory, keyed by content hash.
type memStore struct {
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (s *memStore) Upload(ctx context.Context, data []byte, opts contentstore.UploadOptions) (contentstore.UploadResult, error) {
	sum := sha256.Sum256(data)
	cid := hex.EncodeToString(sum[:])
	s.blobs[cid] = data
	return contentstore.UploadResult{CID: cid, URL: "/content/" + cid}, nil
}

func (s *memStore) Download(ctx context.Context, cid string) (contentstore.DownloadResult, error) {
	data, ok := s.blobs[cid]
	if !ok {
		return contentstore.DownloadResult{}, errors.New("not found")
	}
	return contentstore.DownloadResult{Content: data, Backend: "mem"}, nil
}

func (s *memStore) Exists(ctx context.Context, cid string) (bool, error) {
	_, ok := s.blobs[cid]
	return ok, nil
}

func (s *memStore) HealthCheck(ctx context.Context) bool { return true }

// fakeRunner scripts subprocess outcomes and records invocations.
type fakeRunner struct {
	stdout   []byte
	stderr   []byte
	exitCode int
	err      error

	name  string
	args  []string
	stdin []byte
}

func (f *fakeRunner) run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, []byte, int, error) {
	f.name = name
	f.args = args
	f.stdin = stdin
	return f.stdout, f.stderr, f.exitCode, f.err
}

func newTestWorker(store contentstore.Store, runner *fakeRunner) *Worker {
	w := NewWorker(Config{}, store, nil)
	if runner != nil {
		w.run = runner.run
	}
	return w
}

func TestRunDocumentBackup(t *testing.T) {
	dump := []byte(`{"collections":{"users":[{"id":1}]}}`)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/backup", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write(dump)
	}))
	defer srv.Close()

	store := newMemStore()
	w := newTestWorker(store, nil)

	res, err := w.Run(context.Background(), "bk1", Target{
		InstanceID: "db1",
		Engine:     types.EngineDocument,
		Endpoint:   srv.URL,
		AuthToken:  "tok",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CID)
	assert.NotZero(t, res.SizeBytes)
	assert.False(t, res.EndedAt.IsZero())
	assert.Empty(t, res.Error)

	// The stored artifact is the gzip-compressed dump.
	stored := store.blobs[res.CID]
	require.True(t, bytes.HasPrefix(stored, gzipMagic))
	zr, err := gzip.NewReader(bytes.NewReader(stored))
	require.NoError(t, err)
	unpacked, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, dump, unpacked)
}

func TestRunDocumentBackupFallsBackToQuery(t *testing.T) {
	var queryBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/backup":
			w.WriteHeader(http.StatusNotImplemented)
		case "/query":
			queryBody, _ = io.ReadAll(r.Body)
			io.WriteString(w, "CREATE TABLE users (id INT);")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	w := newTestWorker(newMemStore(), nil)

	res, err := w.Run(context.Background(), "bk1", Target{
		Engine:   types.EngineDocument,
		Endpoint: srv.URL,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CID)
	assert.JSONEq(t, `{"sql":".dump"}`, string(queryBody))
}

func TestRunDocumentBackupFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := newTestWorker(newMemStore(), nil)

	res, err := w.Run(context.Background(), "bk1", Target{
		Engine:   types.EngineDocument,
		Endpoint: srv.URL,
	})
	require.Error(t, err)
	assert.Empty(t, res.CID)
	assert.NotEmpty(t, res.Error)
	assert.False(t, res.EndedAt.IsZero())
}

func TestRunRelationalBackup(t *testing.T) {
	runner := &fakeRunner{stdout: []byte("PGDMP custom format payload")}
	store := newMemStore()
	w := newTestWorker(store, runner)

	res, err := w.Run(context.Background(), "bk1", Target{
		InstanceID:       "db1",
		Engine:           types.EngineRelational,
		ConnectionString: "postgres://u:p@host:5432/app",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.CID)

	assert.Equal(t, "pg_dump", runner.name)
	assert.Equal(t, []string{"--format=custom", "--dbname", "postgres://u:p@host:5432/app"}, runner.args)
	assert.Nil(t, runner.stdin)
}

func TestRunRelationalBackupDumpFails(t *testing.T) {
	runner := &fakeRunner{exitCode: 1, stderr: []byte("pg_dump: error: connection refused")}
	w := newTestWorker(newMemStore(), runner)

	res, err := w.Run(context.Background(), "bk1", Target{Engine: types.EngineRelational})
	require.Error(t, err)
	assert.Contains(t, res.Error, "connection refused")
}

func TestRunUnsupportedEngine(t *testing.T) {
	w := newTestWorker(newMemStore(), nil)

	res, err := w.Run(context.Background(), "bk1", Target{Engine: "graph"})
	require.Error(t, err)
	assert.NotEmpty(t, res.Error)
}

func TestRestoreDocument(t *testing.T) {
	dump := []byte(`{"collections":{}}`)

	var restored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/restore", r.URL.Path)
		restored, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	store := newMemStore()
	compressed, err := gzipBytes(dump)
	require.NoError(t, err)
	res, err := store.Upload(context.Background(), compressed, contentstore.UploadOptions{})
	require.NoError(t, err)

	w := newTestWorker(store, nil)
	err = w.Restore(context.Background(), Target{
		Engine:   types.EngineDocument,
		Endpoint: srv.URL,
	}, res.CID)
	require.NoError(t, err)

	// The gzip layer is stripped before the data reaches the engine.
	assert.Equal(t, dump, restored)
}

func TestRestorePassesThroughUncompressed(t *testing.T) {
	dump := []byte("plain sql dump")

	var restored []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		restored, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	store := newMemStore()
	res, err := store.Upload(context.Background(), dump, contentstore.UploadOptions{})
	require.NoError(t, err)

	w := newTestWorker(store, nil)
	err = w.Restore(context.Background(), Target{
		Engine:   types.EngineDocument,
		Endpoint: srv.URL,
	}, res.CID)
	require.NoError(t, err)
	assert.Equal(t, dump, restored)
}

func TestRestoreRelational(t *testing.T) {
	dump := []byte("PGDMP payload")
	store := newMemStore()
	compressed, err := gzipBytes(dump)
	require.NoError(t, err)
	res, err := store.Upload(context.Background(), compressed, contentstore.UploadOptions{})
	require.NoError(t, err)

	runner := &fakeRunner{}
	w := newTestWorker(store, runner)
	err = w.Restore(context.Background(), Target{
		Engine:           types.EngineRelational,
		ConnectionString: "postgres://u:p@host:5432/app",
	}, res.CID)
	require.NoError(t, err)

	assert.Equal(t, "pg_restore", runner.name)
	assert.Equal(t, []string{"--clean", "--if-exists", "--no-owner", "--dbname", "postgres://u:p@host:5432/app"}, runner.args)
	assert.Equal(t, dump, runner.stdin, "decompressed dump must be piped to stdin")
}

func TestRestoreRelationalWarningsNonFatal(t *testing.T) {
	store := newMemStore()
	res, err := store.Upload(context.Background(), []byte("dump"), contentstore.UploadOptions{})
	require.NoError(t, err)

	runner := &fakeRunner{
		exitCode: 1,
		stderr:   []byte("pg_restore: warning: errors ignored on restore: 2\n"),
	}
	w := newTestWorker(store, runner)
	err = w.Restore(context.Background(), Target{Engine: types.EngineRelational}, res.CID)
	assert.NoError(t, err, "warning-only stderr must not fail the restore")
}

func TestRestoreRelationalRealErrorFatal(t *testing.T) {
	store := newMemStore()
	res, err := store.Upload(context.Background(), []byte("dump"), contentstore.UploadOptions{})
	require.NoError(t, err)

	runner := &fakeRunner{
		exitCode: 1,
		stderr:   []byte("pg_restore: warning: errors ignored\npg_restore: error: could not connect"),
	}
	w := newTestWorker(store, runner)
	err = w.Restore(context.Background(), Target{Engine: types.EngineRelational}, res.CID)
	assert.Error(t, err)
}

func TestRestoreMissingCID(t *testing.T) {
	w := newTestWorker(newMemStore(), nil)
	err := w.Restore(context.Background(), Target{Engine: types.EngineDocument}, "missing")
	assert.Error(t, err)
}

func TestWarningsOnly(t *testing.T) {
	tests := []struct {
		name     string
		stderr   string
		expected bool
	}{
		{"empty", "", false},
		{"only whitespace", "  \n\n", false},
		{"single warning", "pg_restore: warning: no privileges\n", true},
		{"mixed case warning", "pg_restore: WARNING: thing\n", true},
		{"warning then error", "warning: a\nerror: b\n", false},
		{"plain error", "fatal: could not connect\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, warningsOnly(tt.stderr))
		})
	}
}
