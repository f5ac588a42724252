package supervisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/dwsnet/roost/pkg/metrics"
	"github.com/dwsnet/roost/pkg/types"
)

// InvokeParams is the RPC-shaped invocation request.
type InvokeParams struct {
	FunctionID string
	Payload    json.RawMessage
}

// errorBody renders the structured JSON error payload returned for upstream
// failures.
func errorBody(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

// InvokeHTTP forwards an HTTP-shaped event to an instance of the function.
// Unknown functions fail with NotFound and exhausted capacity with
// LimitExceeded; upstream timeouts and non-2xx responses are translated to a
// 500 result with a structured JSON error body.
func (s *Supervisor) InvokeHTTP(ctx context.Context, functionID string, event types.HTTPEvent) (*types.HTTPResult, error) {
	s.mu.Lock()
	fs, ok := s.functions[functionID]
	if !ok {
		s.mu.Unlock()
		return nil, trace.NotFound("function %q not found", functionID)
	}
	fn := fs.fn
	timeout := time.Duration(fn.TimeoutMs) * time.Millisecond
	s.mu.Unlock()

	mi, err := s.acquireInstance(ctx, functionID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer s.finish(mi)

	start := s.clock.Now()
	result, upstreamErr := s.forward(ctx, mi.inst.Port, event, timeout)
	durationMs := float64(s.clock.Since(start)) / float64(time.Millisecond)

	failed := upstreamErr != nil || result.StatusCode < 200 || result.StatusCode >= 300
	if upstreamErr != nil {
		msg := "worker error: " + upstreamErr.Error()
		timedOut := errors.Is(upstreamErr, context.DeadlineExceeded)
		if timedOut {
			msg = fmt.Sprintf("worker timed out after %v", timeout)
		}
		result = types.HTTPResult{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       errorBody(msg),
			TimedOut:   timedOut,
		}
	} else if failed {
		result = types.HTTPResult{
			StatusCode: http.StatusInternalServerError,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       errorBody(fmt.Sprintf("worker returned status %d", result.StatusCode)),
		}
	}

	s.mu.Lock()
	if fs, ok := s.functions[functionID]; ok {
		s.recordInvocationLocked(fs, durationMs, failed)
	}
	s.mu.Unlock()

	outcome := "success"
	if failed {
		outcome = "error"
	}
	metrics.InvocationsTotal.WithLabelValues(outcome).Inc()
	metrics.InvocationDuration.Observe(durationMs / 1000)

	return &result, nil
}

// forward performs the upstream HTTP call to the worker on its loopback
// port, bounded by the function timeout.
func (s *Supervisor) forward(ctx context.Context, port int, event types.HTTPEvent, timeout time.Duration) (types.HTTPResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	path := event.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)

	var body io.Reader
	if len(event.Body) > 0 {
		body = bytes.NewReader(event.Body)
	}
	req, err := http.NewRequestWithContext(ctx, event.Method, url, body)
	if err != nil {
		return types.HTTPResult{}, trace.Wrap(err)
	}
	for k, v := range event.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.HTTPResult{}, context.DeadlineExceeded
		}
		return types.HTTPResult{}, trace.ConnectionProblem(err, "upstream call failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.HTTPResult{}, trace.ConnectionProblem(err, "reading upstream response")
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return types.HTTPResult{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       string(respBody),
	}, nil
}

// Invoke is the RPC-shaped invocation: the payload travels in a JSON
// envelope and the result carries captured logs and the memory high-water
// reported by the worker.
func (s *Supervisor) Invoke(ctx context.Context, params InvokeParams) (*types.Invocation, error) {
	payload := params.Payload
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	envelope, err := json.Marshal(map[string]json.RawMessage{"event": payload})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	inv := &types.Invocation{
		ID:         uuid.New().String(),
		FunctionID: params.FunctionID,
		Status:     types.InvocationStatusRunning,
		StartedAt:  s.clock.Now(),
	}

	result, err := s.InvokeHTTP(ctx, params.FunctionID, types.HTTPEvent{
		Method:  http.MethodPost,
		Path:    "/",
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    envelope,
	})
	inv.EndedAt = s.clock.Now()
	inv.DurationMs = int64(inv.EndedAt.Sub(inv.StartedAt) / time.Millisecond)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if lines, lerr := s.Logs(params.FunctionID, 20); lerr == nil {
		inv.Logs = lines
	}
	if peak := result.Headers["X-Roost-Memory-Peak"]; peak != "" {
		if n, perr := strconv.ParseInt(peak, 10, 64); perr == nil {
			inv.MemoryPeakBytes = n
		}
	}

	switch {
	case result.TimedOut:
		inv.Status = types.InvocationStatusTimeout
		inv.Error = result.Body
	case result.StatusCode >= 200 && result.StatusCode < 300:
		inv.Status = types.InvocationStatusSuccess
		inv.Result = result.Body
	default:
		inv.Status = types.InvocationStatusError
		inv.Error = result.Body
	}
	return inv, nil
}
