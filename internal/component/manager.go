package component

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/v9-labs/v9worker/internal/containercli"
	"github.com/v9-labs/v9worker/internal/isolation"
	"github.com/v9-labs/v9worker/internal/logs"
	"github.com/v9-labs/v9worker/internal/pool"
	"github.com/v9-labs/v9worker/internal/stats"
	"github.com/v9-labs/v9worker/internal/sysstatus"
	"github.com/v9-labs/v9worker/internal/wire"
	"github.com/v9-labs/v9worker/internal/workerrors"
)

// Interpreter is the host interpreter binary RawInterpreter components are
// launched with.
const Interpreter = "python3"

// Manager owns the active-components registry, serialises
// activate/deactivate against it, and dispatches invocations under
// per-component locks.
type Manager struct {
	logger   hclog.Logger
	registry *Registry
	adapter  *containercli.Adapter
	pool     *pool.Pool
	sampler  *sysstatus.Sampler
}

// NewManager wires a Manager to the given container adapter, idle-container
// pool and node sampler.
func NewManager(logger hclog.Logger, adapter *containercli.Adapter, p *pool.Pool, sampler *sysstatus.Sampler) *Manager {
	return &Manager{
		logger:   logger.Named("manager"),
		registry: NewRegistry(),
		adapter:  adapter,
		pool:     p,
		sampler:  sampler,
	}
}

// Activate constructs an isolation wrapper for req and registers it. It
// returns AlreadyRunning if the path is already registered, FailedToStart
// if the wrapper's controller could not be constructed (e.g. an image
// archive failed to load), and ActivationSuccessful otherwise.
func (m *Manager) Activate(ctx context.Context, req wire.ActivateRequest) wire.ActivateResponse {
	path := Path{User: req.ID.User, Repo: req.ID.Repo}
	if _, exists := m.registry.Lookup(path); exists {
		return wire.ActivateResponse{Result: wire.AlreadyRunning}
	}

	logTracker := logs.New(m.logger)
	controller, err := m.buildController(ctx, req, logTracker)
	if err != nil {
		return wire.ActivateResponse{Result: wire.FailedToStart, Message: err.Error()}
	}

	wrapper := isolation.New(m.logger, controller)
	handle := newHandle(req.ID, req.ExecutionMethod, wrapper, logTracker)

	if !m.registry.Insert(path, handle) {
		// Lost a race with a concurrent activate of the same path.
		return wire.ActivateResponse{Result: wire.AlreadyRunning}
	}
	return wire.ActivateResponse{Result: wire.ActivationSuccessful}
}

func (m *Manager) buildController(ctx context.Context, req wire.ActivateRequest, logTracker *logs.Tracker) (isolation.Controller, error) {
	switch req.ExecutionMethod {
	case wire.ExecutionMethodRawInterpreter:
		return isolation.NewRawInterpreterController(m.logger, Interpreter, req.ExecutableFile, logTracker), nil
	case wire.ExecutionMethodImageArchive:
		return isolation.NewImageArchiveController(ctx, m.logger, m.adapter, req.ExecutableFile)
	case wire.ExecutionMethodPooledScript:
		return isolation.NewPooledScriptController(m.logger, m.pool, req.ExecutableFile)
	default:
		return nil, workerrors.InvalidSerialization("unknown execution_method", []byte(req.ExecutionMethod))
	}
}

// Deactivate removes the handle at req's path and tears down its wrapper.
func (m *Manager) Deactivate(req wire.DeactivateRequest) wire.DeactivateResponse {
	path := Path{User: req.ID.User, Repo: req.ID.Repo}
	handle, ok := m.registry.Remove(path)
	if !ok {
		return wire.DeactivateResponse{Result: wire.ComponentNotFound}
	}

	handle.mu.Lock()
	defer handle.mu.Unlock()
	if err := handle.wrapper.Close(); err != nil {
		m.logger.Warn("error tearing down deactivated component", "user", req.ID.User, "repo", req.ID.Repo, "error", err)
	}
	return wire.DeactivateResponse{Result: wire.DeactivationSuccessful}
}

// InvokeResult is the outcome of Invoke, ready for the router to translate
// into an HTTP response.
type InvokeResult struct {
	Found      bool
	HTTPStatus int
	Body       string
}

// Invoke looks up the component at path and, if present, serialises one
// request/response cycle through its isolation wrapper, recording timing
// and size to its stats tracker.
func (m *Manager) Invoke(ctx context.Context, path Path, calledFunction, httpMethod, trailingPath, rawQuery, body string) InvokeResult {
	handle, ok := m.registry.Lookup(path)
	if !ok {
		return InvokeResult{Found: false}
	}

	query, _ := url.ParseQuery(rawQuery)

	handle.mu.Lock()
	defer handle.mu.Unlock()

	compReq := wire.ComponentRequest{
		CalledFunction:   calledFunction,
		HTTPMethod:       httpMethod,
		Path:             trailingPath,
		RequestArguments: map[string][]string(query),
		RequestBody:      body,
	}
	encoded, err := json.Marshal(compReq)
	if err != nil {
		return InvokeResult{Found: true, HTTPStatus: 543, Body: workerrors.JSONEncodeDecode(err).Error()}
	}

	start := time.Now()
	respLine, err := handle.wrapper.Query(ctx, wire.PercentEncode(string(encoded)))
	elapsed := time.Since(start)
	if err != nil {
		handle.stats.Record(uint32(elapsed.Milliseconds()), 0)
		return InvokeResult{Found: true, HTTPStatus: 543, Body: err.Error()}
	}

	decoded, err := wire.PercentDecode(respLine)
	if err != nil {
		handle.stats.Record(uint32(elapsed.Milliseconds()), 0)
		return InvokeResult{Found: true, HTTPStatus: 543, Body: workerrors.InvalidUTF8(err).Error()}
	}

	var compResp wire.ComponentResponse
	if err := json.Unmarshal([]byte(decoded), &compResp); err != nil {
		handle.stats.Record(uint32(elapsed.Milliseconds()), 0)
		return InvokeResult{Found: true, HTTPStatus: 543, Body: workerrors.JSONEncodeDecode(err).Error()}
	}

	responseBody := compResp.ResponseBody
	if compResp.ErrorMessage != "" {
		responseBody = compResp.ErrorMessage
	}
	handle.stats.Record(uint32(elapsed.Milliseconds()), uint32(len(responseBody)))

	return InvokeResult{Found: true, HTTPStatus: compResp.HTTPResponseCode, Body: responseBody}
}

// SetStatusColor stores the router's post-invocation classification on the
// handle at path. A no-op if the path is no longer registered.
func (m *Manager) SetStatusColor(path Path, color stats.StatusColor) {
	if handle, ok := m.registry.Lookup(path); ok {
		handle.mu.Lock()
		handle.stats.SetStatusColor(color)
		handle.mu.Unlock()
	}
}

// Status samples node resource usage and every registered component's
// stats snapshot.
func (m *Manager) Status() wire.StatusResponse {
	sample := m.sampler.Sample()
	resp := wire.StatusResponse{
		CPUUsage:     sample.CPULoad,
		MemoryUsage:  sample.MemoryPressure,
		NetworkUsage: sample.NetworkErrorRate,
	}

	m.registry.Walk(func(h *Handle) {
		h.mu.Lock()
		snap := h.stats.Snapshot()
		h.mu.Unlock()

		resp.ActiveComponents = append(resp.ActiveComponents, wire.ActiveComponent{
			ID:              h.ID,
			ExecutionMethod: h.ExecutionMethod,
			StatusColor:     snap.StatusColor.String(),
			Stats: wire.ComponentStats{
				StatWindowSeconds:    snap.WindowSeconds,
				Hits:                 snap.Hits,
				AvgResponseBytes:     snap.AvgResponseBytes,
				AvgMsLatency:         snap.AvgMSLatency,
				MsLatencyPercentiles: snap.MSLatencyPercentiles,
			},
		})
	})
	return resp
}

// Logs snapshots every registered component's log tracker.
func (m *Manager) Logs() wire.LogResponse {
	var resp wire.LogResponse
	m.registry.Walk(func(h *Handle) {
		h.mu.Lock()
		gen, logLines := h.logs.Snapshot()
		h.mu.Unlock()

		resp.Components = append(resp.Components, wire.LogEntry{
			ID:         h.ID,
			Generation: gen,
			Logs:       logLines,
		})
	})
	return resp
}

// Heartbeat attempts a non-blocking lock on every handle; a busy handle is
// by definition not idle and is skipped rather than waited on.
func (m *Manager) Heartbeat() {
	m.registry.Walk(func(h *Handle) {
		if !h.mu.TryLock() {
			return
		}
		defer h.mu.Unlock()
		h.wrapper.Heartbeat()
	})
}
