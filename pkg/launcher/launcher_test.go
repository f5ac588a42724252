package launcher

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsnet/roost/pkg/contentstore"
	"github.com/dwsnet/roost/pkg/types"
)

// memStore serves artifacts from memory for launcher tests.
type memStore struct {
	blobs     map[string][]byte
	downloads int
}

func (s *memStore) Upload(ctx context.Context, data []byte, opts contentstore.UploadOptions) (contentstore.UploadResult, error) {
	return contentstore.UploadResult{}, trace.NotImplemented("not used")
}

func (s *memStore) Download(ctx context.Context, cid string) (contentstore.DownloadResult, error) {
	s.downloads++
	data, ok := s.blobs[cid]
	if !ok {
		return contentstore.DownloadResult{}, trace.NotFound("content %q not found", cid)
	}
	return contentstore.DownloadResult{Content: data, Backend: "mem"}, nil
}

func (s *memStore) Exists(ctx context.Context, cid string) (bool, error) {
	_, ok := s.blobs[cid]
	return ok, nil
}

func (s *memStore) HealthCheck(ctx context.Context) bool { return true }

func newTestLauncher(t *testing.T, store contentstore.Store) *Launcher {
	t.Helper()
	l, err := NewLauncher(Config{
		CacheDir:       filepath.Join(t.TempDir(), "cache"),
		WorkRoot:       filepath.Join(t.TempDir(), "work"),
		RuntimeCommand: []string{"bun", "run"},
	}, store)
	require.NoError(t, err)
	return l
}

// tarGz builds a gzip-wrapped tar archive from name->content pairs.
func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(content)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestNewLauncherRequiresRuntime(t *testing.T) {
	_, err := NewLauncher(Config{CacheDir: t.TempDir(), WorkRoot: t.TempDir()}, &memStore{})
	assert.Error(t, err)
}

func TestEnsureArtifactCaches(t *testing.T) {
	store := &memStore{blobs: map[string][]byte{"cid1": []byte("code")}}
	l := newTestLauncher(t, store)

	path, err := l.EnsureArtifact(context.Background(), "cid1")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("code"), data)
	assert.Equal(t, 1, store.downloads)

	// Second call is a cache hit.
	again, err := l.EnsureArtifact(context.Background(), "cid1")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, 1, store.downloads)
}

func TestEnsureArtifactMissing(t *testing.T) {
	l := newTestLauncher(t, &memStore{blobs: map[string][]byte{}})
	_, err := l.EnsureArtifact(context.Background(), "nope")
	assert.Error(t, err)
}

func TestMaterializeSingleFile(t *testing.T) {
	l := newTestLauncher(t, &memStore{})
	workDir := t.TempDir()

	artifact := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(artifact, []byte(`export default { fetch() {} }`), 0o644))

	entry, err := l.materialize(artifact, workDir, "")
	require.NoError(t, err)
	assert.Equal(t, "main.js", entry)

	data, err := os.ReadFile(filepath.Join(workDir, "main.js"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "fetch")
}

func TestMaterializeArchive(t *testing.T) {
	tests := []struct {
		name       string
		files      map[string]string
		entryPoint string
		expected   string
	}{
		{
			name:       "entry named main",
			files:      map[string]string{"main.js": "code", "lib.js": "lib"},
			entryPoint: "",
			expected:   "main.js",
		},
		{
			name:       "custom entry point linked to main",
			files:      map[string]string{"handler.ts": "code"},
			entryPoint: "handler",
			expected:   "main.ts",
		},
		{
			name:       "index fallback",
			files:      map[string]string{"index.mjs": "code"},
			entryPoint: "",
			expected:   "main.mjs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLauncher(t, &memStore{})
			workDir := t.TempDir()

			artifact := filepath.Join(t.TempDir(), "artifact")
			require.NoError(t, os.WriteFile(artifact, tarGz(t, tt.files), 0o644))

			entry, err := l.materialize(artifact, workDir, tt.entryPoint)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, entry)
			assert.FileExists(t, filepath.Join(workDir, entry))
		})
	}
}

func TestMaterializeArchiveNoEntry(t *testing.T) {
	l := newTestLauncher(t, &memStore{})
	workDir := t.TempDir()

	artifact := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(artifact, tarGz(t, map[string]string{"util.js": "x"}), 0o644))

	_, err := l.materialize(artifact, workDir, "")
	require.Error(t, err)
	assert.True(t, trace.IsNotFound(err))
}

func TestExtractTarGzRejectsEscape(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "../../etc/evil",
		Mode:     0o644,
		Size:     4,
		Typeflag: tar.TypeReg,
	}))
	_, err := tw.Write([]byte("evil"))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	err = extractTarGz(buf.Bytes(), t.TempDir())
	assert.Error(t, err)
}

func TestWorkerEnvironAllowList(t *testing.T) {
	t.Setenv("SECRET_TOKEN", "must-not-leak")

	env := workerEnviron(types.WorkerEnv{
		Port:             31000,
		FunctionID:       "fn1",
		InstanceID:       "inst1",
		OwnerID:          "owner1",
		MemoryLimitMB:    128,
		TimeoutMs:        5000,
		NetworkID:        "testnet",
		PublicGatewayURL: "https://gw.example",
		KeyServiceURL:    "https://keys.example",
	})

	assert.Contains(t, env, "PORT=31000")
	assert.Contains(t, env, "ROOST_FUNCTION_ID=fn1")
	assert.Contains(t, env, "ROOST_INSTANCE_ID=inst1")
	assert.Contains(t, env, "ROOST_OWNER_ID=owner1")
	assert.Contains(t, env, "ROOST_MEMORY_LIMIT_MB=128")
	assert.Contains(t, env, "ROOST_TIMEOUT_MS=5000")
	assert.Contains(t, env, "ROOST_NETWORK_ID=testnet")
	assert.Contains(t, env, "ROOST_PUBLIC_GATEWAY_URL=https://gw.example")
	assert.Contains(t, env, "ROOST_KEY_SERVICE_URL=https://keys.example")

	for _, kv := range env {
		assert.NotContains(t, kv, "must-not-leak")
	}
}

func TestBootstrapShimReferencesEntry(t *testing.T) {
	shim := string(bootstrapShim("main.ts"))
	assert.Contains(t, shim, `import * as mod from "./main.ts"`)
	assert.Contains(t, shim, "/health")
}
