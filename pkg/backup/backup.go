package backup

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dwsnet/roost/pkg/contentstore"
	"github.com/dwsnet/roost/pkg/log"
	"github.com/dwsnet/roost/pkg/metrics"
	"github.com/dwsnet/roost/pkg/types"
)

var gzipMagic = []byte{0x1f, 0x8b}

// Target describes the live instance a backup or restore operates on. The
// lifecycle controller fills it from its private credential map.
type Target struct {
	InstanceID string
	Engine     types.DatabaseEngine

	// Document engine: base URL and bearer token of the instance API.
	Endpoint  string
	AuthToken string

	// Relational engine: DSN handed to the dump/restore utilities.
	ConnectionString string
}

// Result is the outcome of one backup job. The caller owns the Backup record
// and applies the result to it under its own lock; the worker never touches
// shared state.
type Result struct {
	CID       string
	SizeBytes int64
	EndedAt   time.Time
	Error     string
}

// commandRunner executes a subprocess and returns stdout, stderr and the
// exit code. Injectable so tests never shell out.
type commandRunner func(ctx context.Context, name string, args []string, stdin []byte) (stdout, stderr []byte, exitCode int, err error)

func execRunner(ctx context.Context, name string, args []string, stdin []byte) ([]byte, []byte, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
			err = nil
		}
	}
	return outBuf.Bytes(), errBuf.Bytes(), code, err
}

// Config holds backup worker configuration.
type Config struct {
	// DumpCommand and RestoreCommand are the relational engine utilities,
	// e.g. pg_dump and pg_restore.
	DumpCommand    string
	RestoreCommand string

	// RequestTimeout bounds each document-engine HTTP call.
	RequestTimeout time.Duration
}

// Worker streams dumps from live instances into the content store and
// restores them back. One job per instance at a time; the lifecycle
// controller enforces that by parking the instance in backing_up.
type Worker struct {
	cfg    Config
	store  contentstore.Store
	clock  clockwork.Clock
	logger zerolog.Logger
	client *http.Client
	run    commandRunner
}

// NewWorker creates a backup worker writing dumps to the given store.
func NewWorker(cfg Config, store contentstore.Store, clock clockwork.Clock) *Worker {
	if cfg.DumpCommand == "" {
		cfg.DumpCommand = "pg_dump"
	}
	if cfg.RestoreCommand == "" {
		cfg.RestoreCommand = "pg_restore"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Worker{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		logger: log.WithComponent("backup"),
		client: &http.Client{Timeout: cfg.RequestTimeout},
		run:    execRunner,
	}
}

// Run executes one backup job and returns its outcome. Errors land on the
// result as well as the return value so the caller can persist them.
func (w *Worker) Run(ctx context.Context, backupID string, target Target) (Result, error) {
	fail := func(err error) (Result, error) {
		metrics.BackupsTotal.WithLabelValues("failed").Inc()
		w.logger.Error().Err(err).
			Str("backup_id", backupID).
			Str("instance_id", target.InstanceID).
			Msg("backup failed")
		return Result{Error: err.Error(), EndedAt: w.clock.Now()}, trace.Wrap(err)
	}

	var dump []byte
	var err error
	switch target.Engine {
	case types.EngineDocument:
		dump, err = w.dumpDocument(ctx, target)
	case types.EngineRelational:
		dump, err = w.dumpRelational(ctx, target)
	default:
		err = trace.BadParameter("unsupported engine %q", target.Engine)
	}
	if err != nil {
		return fail(err)
	}

	compressed, err := gzipBytes(dump)
	if err != nil {
		return fail(trace.Wrap(err, "compressing dump"))
	}

	res, err := w.store.Upload(ctx, compressed, contentstore.UploadOptions{
		Filename:  fmt.Sprintf("backup-%s.sql.gz", backupID),
		Permanent: true,
	})
	if err != nil {
		return fail(trace.Wrap(err, "uploading dump"))
	}

	metrics.BackupsTotal.WithLabelValues("completed").Inc()
	metrics.BackupBytes.Add(float64(len(compressed)))
	w.logger.Info().
		Str("backup_id", backupID).
		Str("instance_id", target.InstanceID).
		Str("cid", res.CID).
		Int("bytes", len(compressed)).
		Msg("backup completed")
	return Result{
		CID:       res.CID,
		SizeBytes: int64(len(compressed)),
		EndedAt:   w.clock.Now(),
	}, nil
}

// Restore downloads a dump by content-hash and feeds it back into the
// instance. Bytes without the gzip magic are passed through unchanged.
func (w *Worker) Restore(ctx context.Context, target Target, cid string) error {
	res, err := w.store.Download(ctx, cid)
	if err != nil {
		return trace.Wrap(err, "downloading backup %s", cid)
	}

	data := res.Content
	if bytes.HasPrefix(data, gzipMagic) {
		data, err = gunzipBytes(data)
		if err != nil {
			return trace.Wrap(err, "decompressing backup %s", cid)
		}
	}

	switch target.Engine {
	case types.EngineDocument:
		err = w.restoreDocument(ctx, target, data)
	case types.EngineRelational:
		err = w.restoreRelational(ctx, target, data)
	default:
		err = trace.BadParameter("unsupported engine %q", target.Engine)
	}
	if err != nil {
		return trace.Wrap(err)
	}

	w.logger.Info().
		Str("instance_id", target.InstanceID).
		Str("cid", cid).
		Msg("restore completed")
	return nil
}

// dumpDocument asks the document engine for a native dump and falls back to
// a SQL dump through the query endpoint when the backup endpoint declines.
func (w *Worker) dumpDocument(ctx context.Context, target Target) ([]byte, error) {
	data, status, err := w.post(ctx, target, "/backup", []byte("{}"))
	if err == nil && status == http.StatusOK {
		return data, nil
	}
	if err != nil {
		w.logger.Warn().Err(err).Str("instance_id", target.InstanceID).Msg("backup endpoint unreachable, trying SQL dump")
	} else {
		w.logger.Warn().Int("status", status).Str("instance_id", target.InstanceID).Msg("backup endpoint declined, trying SQL dump")
	}

	body := []byte(`{"sql":".dump"}`)
	data, status, err = w.post(ctx, target, "/query", body)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "document dump failed")
	}
	if status != http.StatusOK {
		return nil, trace.ConnectionProblem(nil, "document dump returned status %d", status)
	}
	return data, nil
}

// dumpRelational shells out to the dump utility and captures its stdout as
// the dump stream.
func (w *Worker) dumpRelational(ctx context.Context, target Target) ([]byte, error) {
	args := []string{"--format=custom", "--dbname", target.ConnectionString}
	stdout, stderr, code, err := w.run(ctx, w.cfg.DumpCommand, args, nil)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "running %s", w.cfg.DumpCommand)
	}
	if code != 0 {
		return nil, trace.ConnectionProblem(nil, "%s exited %d: %s", w.cfg.DumpCommand, code, strings.TrimSpace(string(stderr)))
	}
	return stdout, nil
}

func (w *Worker) restoreDocument(ctx context.Context, target Target, data []byte) error {
	_, status, err := w.post(ctx, target, "/restore", data)
	if err != nil {
		return trace.ConnectionProblem(err, "document restore failed")
	}
	if status != http.StatusOK {
		return trace.ConnectionProblem(nil, "document restore returned status %d", status)
	}
	return nil
}

// restoreRelational pipes the dump into the restore utility. The utility
// exits non-zero on mere warnings (missing roles, pre-existing objects), so
// a non-zero exit is fatal only when stderr carries non-warning lines.
func (w *Worker) restoreRelational(ctx context.Context, target Target, data []byte) error {
	args := []string{"--clean", "--if-exists", "--no-owner", "--dbname", target.ConnectionString}
	_, stderr, code, err := w.run(ctx, w.cfg.RestoreCommand, args, data)
	if err != nil {
		return trace.ConnectionProblem(err, "running %s", w.cfg.RestoreCommand)
	}
	if code != 0 && !warningsOnly(string(stderr)) {
		return trace.ConnectionProblem(nil, "%s exited %d: %s", w.cfg.RestoreCommand, code, strings.TrimSpace(string(stderr)))
	}
	if code != 0 {
		w.logger.Warn().
			Str("instance_id", target.InstanceID).
			Str("stderr", strings.TrimSpace(string(stderr))).
			Msg("restore finished with warnings")
	}
	return nil
}

// warningsOnly reports whether every non-empty stderr line is a warning.
func warningsOnly(stderr string) bool {
	sawLine := false
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sawLine = true
		if !strings.Contains(strings.ToLower(line), "warning") {
			return false
		}
	}
	return sawLine
}

func (w *Worker) post(ctx context.Context, target Target, path string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if target.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+target.AuthToken)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, 0, trace.Wrap(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, trace.Wrap(err)
	}
	return data, resp.StatusCode, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := zw.Close(); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}
