package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsnet/roost/pkg/backup"
	"github.com/dwsnet/roost/pkg/contentstore"
	"github.com/dwsnet/roost/pkg/cron"
	"github.com/dwsnet/roost/pkg/events"
	"github.com/dwsnet/roost/pkg/lifecycle"
	"github.com/dwsnet/roost/pkg/netalloc"
	"github.com/dwsnet/roost/pkg/pool"
	"github.com/dwsnet/roost/pkg/supervisor"
	"github.com/dwsnet/roost/pkg/types"
)

// echoLauncher serves every worker with a loopback HTTP listener that echoes
// the request path and body.
type echoLauncher struct {
	mu    sync.Mutex
	procs []*echoProcess
}

type echoProcess struct {
	ln   net.Listener
	done chan struct{}
	once sync.Once
}

func (p *echoProcess) PID() int              { return 4242 }
func (p *echoProcess) ExitCode() int         { return 0 }
func (p *echoProcess) Exited() bool          { return false }
func (p *echoProcess) Done() <-chan struct{} { return p.done }

func (p *echoProcess) Stop(grace time.Duration) error {
	p.once.Do(func() {
		p.ln.Close()
		close(p.done)
	})
	return nil
}

func (p *echoProcess) Kill() error { return p.Stop(0) }

func (l *echoLauncher) EnsureArtifact(ctx context.Context, cid string) (string, error) {
	if cid == "" {
		return "", trace.NotFound("content not found")
	}
	return "/tmp/" + cid, nil
}

func (l *echoLauncher) Launch(ctx context.Context, fn *types.Function, env types.WorkerEnv, logs io.Writer) (supervisor.Process, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", env.Port))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	proc := &echoProcess{ln: ln, done: make(chan struct{})}
	go http.Serve(ln, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo-Path", r.URL.RequestURI())
		w.Write(body)
	}))
	l.mu.Lock()
	l.procs = append(l.procs, proc)
	l.mu.Unlock()
	return proc, nil
}

// memStore backs the backup worker in API tests.
type memStore struct{}

func (memStore) Upload(ctx context.Context, data []byte, opts contentstore.UploadOptions) (contentstore.UploadResult, error) {
	return contentstore.UploadResult{CID: "cid"}, nil
}
func (memStore) Download(ctx context.Context, cid string) (contentstore.DownloadResult, error) {
	return contentstore.DownloadResult{}, trace.NotFound("content %q not found", cid)
}
func (memStore) Exists(ctx context.Context, cid string) (bool, error) { return false, nil }
func (memStore) HealthCheck(ctx context.Context) bool                 { return true }

type testEnv struct {
	srv    *httptest.Server
	broker *events.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ports, err := netalloc.NewPortAllocator(36000, 36999)
	require.NoError(t, err)

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	sup := supervisor.NewSupervisor(supervisor.Config{}, &echoLauncher{}, ports, nil, nil, nil)
	t.Cleanup(sup.Stop)

	invoker := func(ctx context.Context, functionID string, event []byte) (types.InvokeResult, error) {
		return types.InvokeResult{Output: "ok"}, nil
	}
	sched := cron.NewScheduler(cron.Config{}, invoker, nil, nil, nil)
	t.Cleanup(sched.Stop)

	pools := pool.NewManager(nil)
	backups := backup.NewWorker(backup.Config{}, memStore{}, nil)
	ctrl := lifecycle.NewController(lifecycle.Config{}, pools, backups, nil, nil, nil)
	t.Cleanup(ctrl.Wait)

	server := NewServer(Config{}, sup, sched, ctrl, broker)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, broker: broker}
}

// call sends a request with an optional owner header and decodes the JSON
// response into out when it is non-nil.
func (e *testEnv) call(t *testing.T, method, path, owner string, body any, out any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	if owner != "" {
		req.Header.Set("X-Owner-ID", owner)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil && len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, out), "body: %s", data)
	}
	return resp
}

func deployTestFunction(t *testing.T, e *testEnv) types.Function {
	t.Helper()
	var fn types.Function
	resp := e.call(t, "POST", "/v1/functions", "owner1", map[string]any{
		"name":            "echo",
		"code_cid":        "cid1",
		"memory_limit_mb": 128,
		"timeout_ms":      5000,
	}, &fn)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return fn
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	var body map[string]string
	resp := e.call(t, "GET", "/health", "", nil, &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	resp, err := http.Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "roost_")
}

func TestFunctionRoutes(t *testing.T) {
	e := newTestEnv(t)
	fn := deployTestFunction(t, e)
	require.NotEmpty(t, fn.ID)
	assert.Equal(t, "owner1", fn.OwnerID)
	assert.Equal(t, types.FunctionStatusActive, fn.Status)

	var got types.Function
	resp := e.call(t, "GET", "/v1/functions/"+fn.ID, "", nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "echo", got.Name)

	var list []types.Function
	resp = e.call(t, "GET", "/v1/functions", "", nil, &list)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, list, 1)

	resp = e.call(t, "DELETE", "/v1/functions/"+fn.ID, "owner1", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = e.call(t, "GET", "/v1/functions/"+fn.ID, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeployRequiresOwner(t *testing.T) {
	e := newTestEnv(t)
	var body map[string]any
	resp := e.call(t, "POST", "/v1/functions", "", map[string]any{"name": "echo"}, &body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, body["error"], "X-Owner-ID")
}

func TestDeployRejectsBadBody(t *testing.T) {
	e := newTestEnv(t)
	req, err := http.NewRequest("POST", e.srv.URL+"/v1/functions", strings.NewReader("{not json"))
	require.NoError(t, err)
	req.Header.Set("X-Owner-ID", "owner1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestErrorBodyShape(t *testing.T) {
	e := newTestEnv(t)
	var body map[string]any
	resp := e.call(t, "GET", "/v1/functions/ghost", "", nil, &body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Contains(t, body["error"], "ghost")
	assert.NotContains(t, body, "stack", "stack traces only appear in debug mode")
}

func TestInvokeHTTPRoute(t *testing.T) {
	e := newTestEnv(t)
	fn := deployTestFunction(t, e)

	req, err := http.NewRequest("POST", e.srv.URL+"/v1/invoke/"+fn.ID+"/items?limit=5", strings.NewReader("payload"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "payload", string(data))
	assert.Equal(t, "/items?limit=5", resp.Header.Get("X-Echo-Path"))
}

func TestInvokeHTTPUnknownFunction(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, "GET", "/v1/invoke/ghost/", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestInvocationRPCRoute(t *testing.T) {
	e := newTestEnv(t)
	fn := deployTestFunction(t, e)

	var inv types.Invocation
	resp := e.call(t, "POST", "/v1/invocations", "", map[string]any{
		"function_id": fn.ID,
		"payload":     map[string]string{"key": "value"},
	}, &inv)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.InvocationStatusSuccess, inv.Status)
	assert.Contains(t, inv.Result, `"key":"value"`)
}

func TestScheduleRoutes(t *testing.T) {
	e := newTestEnv(t)

	var sched types.CronSchedule
	resp := e.call(t, "POST", "/v1/schedules", "owner1", map[string]any{
		"function_id": "fn1",
		"name":        "nightly",
		"expression":  "00 3 * * *",
	}, &sched)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "0 3 * * *", sched.Expression)
	assert.Equal(t, types.ScheduleStatusActive, sched.Status)

	var exec types.CronExecution
	resp = e.call(t, "POST", "/v1/schedules/"+sched.ID+"/trigger", "owner1", nil, &exec)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.ExecutionStatusSuccess, exec.Status)

	var hist []types.CronExecution
	resp = e.call(t, "GET", "/v1/schedules/"+sched.ID+"/executions", "", nil, &hist)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, hist, 1)

	resp = e.call(t, "POST", "/v1/schedules/"+sched.ID+"/pause", "owner1", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Wrong owner cannot resume.
	resp = e.call(t, "POST", "/v1/schedules/"+sched.ID+"/resume", "intruder", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.call(t, "DELETE", "/v1/schedules/"+sched.ID, "owner1", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestScheduleBadExpression(t *testing.T) {
	e := newTestEnv(t)
	resp := e.call(t, "POST", "/v1/schedules", "owner1", map[string]any{
		"function_id": "fn1",
		"expression":  "61 * * * *",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDatabaseRoutes(t *testing.T) {
	e := newTestEnv(t)

	var inst types.DatabaseInstance
	resp := e.call(t, "POST", "/v1/databases", "owner1", map[string]any{
		"name":   "app",
		"engine": "relational",
	}, &inst)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, inst.ID)

	// Provisioning is asynchronous.
	require.Eventually(t, func() bool {
		var got types.DatabaseInstance
		resp := e.call(t, "GET", "/v1/databases/"+inst.ID, "owner1", nil, &got)
		return resp.StatusCode == http.StatusOK && got.Status == types.DatabaseStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	var conn lifecycle.ConnectionInfo
	resp = e.call(t, "GET", "/v1/databases/"+inst.ID+"/connection", "owner1", nil, &conn)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, conn.Username)
	assert.True(t, strings.HasPrefix(conn.ConnectionString, "postgres://"))

	var stats types.PoolStats
	resp = e.call(t, "GET", "/v1/databases/"+inst.ID+"/pool", "owner1", nil, &stats)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Owner gating.
	resp = e.call(t, "GET", "/v1/databases/"+inst.ID, "intruder", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp = e.call(t, "GET", "/v1/databases/"+inst.ID, "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = e.call(t, "POST", "/v1/databases/"+inst.ID+"/stop", "owner1", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Stopping twice is an illegal transition.
	resp = e.call(t, "POST", "/v1/databases/"+inst.ID+"/stop", "owner1", nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = e.call(t, "POST", "/v1/databases/"+inst.ID+"/start", "owner1", nil, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool {
		var got types.DatabaseInstance
		resp := e.call(t, "GET", "/v1/databases/"+inst.ID, "owner1", nil, &got)
		return resp.StatusCode == http.StatusOK && got.Status == types.DatabaseStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	var rep types.Replica
	resp = e.call(t, "POST", "/v1/databases/"+inst.ID+"/replicas", "owner1", map[string]any{"region": "eu-west-1"}, &rep)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "eu-west-1", rep.Region)

	resp = e.call(t, "DELETE", "/v1/databases/"+inst.ID, "owner1", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestRestoreUnknownBackup(t *testing.T) {
	e := newTestEnv(t)

	var inst types.DatabaseInstance
	resp := e.call(t, "POST", "/v1/databases", "owner1", map[string]any{
		"name":   "app",
		"engine": "document",
	}, &inst)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Eventually(t, func() bool {
		var got types.DatabaseInstance
		resp := e.call(t, "GET", "/v1/databases/"+inst.ID, "owner1", nil, &got)
		return resp.StatusCode == http.StatusOK && got.Status == types.DatabaseStatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	resp = e.call(t, "POST", "/v1/databases/"+inst.ID+"/restore", "owner1", map[string]any{"backup_id": "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEventsStream(t *testing.T) {
	e := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", e.srv.URL+"/v1/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	// Wait for the handler's subscription before emitting.
	require.Eventually(t, func() bool {
		return e.broker.SubscriberCount() == 1
	}, 2*time.Second, 5*time.Millisecond)

	e.broker.Emit(events.EventFunctionDeployed, "echo", map[string]string{"function_id": "fn1"})

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	require.NoError(t, err)

	var event events.Event
	require.NoError(t, json.Unmarshal(line, &event))
	assert.Equal(t, events.EventFunctionDeployed, event.Type)
	assert.Equal(t, "echo", event.Message)
	assert.NotEmpty(t, event.ID)
}
