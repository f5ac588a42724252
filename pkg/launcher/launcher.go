package launcher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/rs/zerolog"

	"github.com/dwsnet/roost/pkg/contentstore"
	"github.com/dwsnet/roost/pkg/log"
	"github.com/dwsnet/roost/pkg/types"
)

// gzipMagic is the two-byte gzip signature used to detect archives.
var gzipMagic = []byte{0x1f, 0x8b}

// Config holds launcher configuration.
type Config struct {
	// CacheDir caches downloaded code artifacts by cid.
	CacheDir string

	// WorkRoot holds per-instance work directories.
	WorkRoot string

	// RuntimeCommand is the worker runtime binary and leading args,
	// e.g. ["bun", "run"].
	RuntimeCommand []string

	// ProbeInterval and ProbeTimeout shape the readiness probe loop.
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
}

// Launcher materializes code artifacts, spawns worker subprocesses and
// probes them for readiness.
type Launcher struct {
	cfg    Config
	store  contentstore.Store
	logger zerolog.Logger
}

// NewLauncher creates a launcher backed by the given content store.
func NewLauncher(cfg Config, store contentstore.Store) (*Launcher, error) {
	if len(cfg.RuntimeCommand) == 0 {
		return nil, trace.BadParameter("runtime command is required")
	}
	if cfg.ProbeInterval == 0 {
		cfg.ProbeInterval = 200 * time.Millisecond
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	for _, dir := range []string{cfg.CacheDir, cfg.WorkRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return &Launcher{
		cfg:    cfg,
		store:  store,
		logger: log.WithComponent("launcher"),
	}, nil
}

// EnsureArtifact returns a local path for the cid, downloading it on a cache
// miss. The content store client handles backend fallback.
func (l *Launcher) EnsureArtifact(ctx context.Context, cid string) (string, error) {
	path := filepath.Join(l.cfg.CacheDir, cid)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	res, err := l.store.Download(ctx, cid)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if err := os.WriteFile(path, res.Content, 0o644); err != nil {
		return "", trace.Wrap(err)
	}
	l.logger.Debug().Str("cid", cid).Str("backend", res.Backend).Msg("artifact cached")
	return path, nil
}

// Launch materializes the function's code into a fresh work directory,
// spawns the worker subprocess on the allocated port, and probes it for
// readiness. On probe timeout the process is killed and an error returned;
// the caller releases the port.
func (l *Launcher) Launch(ctx context.Context, fn *types.Function, env types.WorkerEnv, logs io.Writer) (*Process, error) {
	artifactPath, err := l.EnsureArtifact(ctx, fn.CodeCID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	workDir := filepath.Join(l.cfg.WorkRoot, env.InstanceID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, trace.Wrap(err)
	}

	entry, err := l.materialize(artifactPath, workDir, fn.EntryPoint)
	if err != nil {
		os.RemoveAll(workDir)
		return nil, trace.Wrap(err)
	}

	shimPath := filepath.Join(workDir, "bootstrap.mjs")
	if err := os.WriteFile(shimPath, bootstrapShim(entry), 0o644); err != nil {
		os.RemoveAll(workDir)
		return nil, trace.Wrap(err)
	}

	args := append(append([]string{}, l.cfg.RuntimeCommand[1:]...), shimPath)
	cmd := exec.Command(l.cfg.RuntimeCommand[0], args...)
	cmd.Dir = workDir
	cmd.Env = workerEnviron(env)
	cmd.Stdout = logs
	cmd.Stderr = logs

	if err := cmd.Start(); err != nil {
		os.RemoveAll(workDir)
		return nil, trace.Wrap(err, "spawning worker process")
	}

	proc := newProcess(cmd, workDir)
	l.logger.Info().
		Str("function_id", fn.ID).
		Str("instance_id", env.InstanceID).
		Int("port", env.Port).
		Int("pid", proc.PID()).
		Msg("worker process spawned")

	if err := l.probeReady(ctx, env.Port, proc); err != nil {
		proc.Kill()
		os.RemoveAll(workDir)
		return nil, trace.Wrap(err)
	}
	return proc, nil
}

// materialize places the artifact in the work directory and returns the
// entry file name. A gzip-wrapped tar archive is extracted; anything else is
// treated as a single source file.
func (l *Launcher) materialize(artifactPath, workDir, entryPoint string) (string, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return "", trace.Wrap(err)
	}

	if !bytes.HasPrefix(data, gzipMagic) {
		entry := "main.js"
		if err := os.WriteFile(filepath.Join(workDir, entry), data, 0o644); err != nil {
			return "", trace.Wrap(err)
		}
		return entry, nil
	}

	if err := extractTarGz(data, workDir); err != nil {
		return "", trace.Wrap(err)
	}
	return resolveEntry(workDir, entryPoint)
}

// resolveEntry locates the entry file in an extracted archive and links it
// to a stable "main" name when it is called something else.
func resolveEntry(workDir, entryPoint string) (string, error) {
	if entryPoint == "" {
		entryPoint = "main"
	}

	candidates := []string{entryPoint, entryPoint + ".js", entryPoint + ".mjs", entryPoint + ".ts", "index.js", "index.mjs", "index.ts"}
	for _, name := range candidates {
		path := filepath.Join(workDir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			if strings.TrimSuffix(name, filepath.Ext(name)) == "main" {
				return name, nil
			}
			target := "main" + filepath.Ext(name)
			if err := os.Link(path, filepath.Join(workDir, target)); err != nil {
				// Cross-device or existing target: fall back to a copy.
				data, rerr := os.ReadFile(path)
				if rerr != nil {
					return "", trace.Wrap(rerr)
				}
				if werr := os.WriteFile(filepath.Join(workDir, target), data, 0o644); werr != nil {
					return "", trace.Wrap(werr)
				}
			}
			return target, nil
		}
	}
	return "", trace.NotFound("no entry point %q in code artifact", entryPoint)
}

// extractTarGz unpacks a gzip-wrapped tar archive into dir, refusing paths
// that escape it.
func extractTarGz(data []byte, dir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return trace.Wrap(err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return trace.Wrap(err)
		}

		target := filepath.Join(dir, filepath.Clean(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return trace.BadParameter("archive entry %q escapes work directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return trace.Wrap(err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return trace.Wrap(err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return trace.Wrap(err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return trace.Wrap(err)
			}
			f.Close()
		}
	}
}

// probeReady polls GET /health on the worker port until it answers, the
// budget expires, or the process dies. 200 means the worker registered a
// health route; 404 means it bound the port without one. Both count as
// ready.
func (l *Launcher) probeReady(ctx context.Context, port int, proc *Process) error {
	client := &http.Client{Timeout: l.cfg.ProbeInterval}
	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	deadline := time.Now().Add(l.cfg.ProbeTimeout)

	ticker := time.NewTicker(l.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		resp, err := client.Get(url)
		if err == nil {
			code := resp.StatusCode
			resp.Body.Close()
			if code == http.StatusOK || code == http.StatusNotFound {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return trace.LimitExceeded("worker on port %d not ready within %v", port, l.cfg.ProbeTimeout)
		}

		select {
		case <-ticker.C:
		case <-proc.Done():
			return trace.ConnectionProblem(nil, "worker process exited during startup (code %d)", proc.ExitCode())
		case <-ctx.Done():
			return trace.Wrap(ctx.Err())
		}
	}
}

// workerEnviron builds the curated environment allow-list. Nothing from the
// parent environment leaks through except PATH, which the runtime binary
// needs. Secrets are fetched by the worker at runtime from the key-material
// service.
func workerEnviron(env types.WorkerEnv) []string {
	return []string{
		"PATH=" + os.Getenv("PATH"),
		fmt.Sprintf("PORT=%d", env.Port),
		"ROOST_FUNCTION_ID=" + env.FunctionID,
		"ROOST_INSTANCE_ID=" + env.InstanceID,
		"ROOST_OWNER_ID=" + env.OwnerID,
		fmt.Sprintf("ROOST_MEMORY_LIMIT_MB=%d", env.MemoryLimitMB),
		fmt.Sprintf("ROOST_TIMEOUT_MS=%d", env.TimeoutMs),
		"ROOST_NETWORK_ID=" + env.NetworkID,
		"ROOST_PUBLIC_GATEWAY_URL=" + env.PublicGatewayURL,
		"ROOST_KEY_SERVICE_URL=" + env.KeyServiceURL,
	}
}

// bootstrapShim generates the startup script. It imports the entry module
// and either serves its fetch handler on the allocated port or defers to a
// server the module started itself.
func bootstrapShim(entry string) []byte {
	return fmt.Appendf(nil, `// generated by roost; do not edit
import * as mod from "./%s";

const port = Number(process.env.PORT);
const handler = mod.default?.fetch ?? mod.fetch;

if (typeof handler === "function") {
  const server = Bun.serve({
    port,
    hostname: "127.0.0.1",
    fetch(req) {
      if (new URL(req.url).pathname === "/health") {
        return new Response("ok");
      }
      return handler(req);
    },
  });
  console.log("worker listening on " + server.port);
}
// Otherwise the module is expected to have started its own server on PORT.
`, entry)
}
