package supervisor

import (
	"context"

	"github.com/google/uuid"
	"github.com/gravitational/trace"

	"github.com/dwsnet/roost/pkg/events"
	"github.com/dwsnet/roost/pkg/metrics"
	"github.com/dwsnet/roost/pkg/types"
)

// acquireInstance returns an instance with spare concurrency, spawning a new
// one below the warm cap. Never blocks on spawn unless no ready capacity
// remains. Fails with LimitExceeded when the function is at capacity.
func (s *Supervisor) acquireInstance(ctx context.Context, functionID string) (*managedInstance, error) {
	s.mu.Lock()
	fs, ok := s.functions[functionID]
	if !ok {
		s.mu.Unlock()
		return nil, trace.NotFound("function %q not found", functionID)
	}
	fn := fs.fn

	// Prefer a ready instance with spare concurrency.
	for _, mi := range fs.instances {
		if mi.inst.Status == types.InstanceStatusReady && mi.inst.ActiveInvocations < s.cfg.MaxConcurrentInvocations {
			s.claim(mi)
			s.mu.Unlock()
			return mi, nil
		}
	}
	// Then a busy one that can still take work.
	for _, mi := range fs.instances {
		if mi.inst.Status == types.InstanceStatusBusy && mi.inst.ActiveInvocations < s.cfg.MaxConcurrentInvocations {
			s.claim(mi)
			s.mu.Unlock()
			return mi, nil
		}
	}

	if len(fs.instances) >= s.cfg.MaxWarmInstances {
		s.mu.Unlock()
		return nil, trace.LimitExceeded("function %q is at capacity (%d instances)", functionID, s.cfg.MaxWarmInstances)
	}

	// Reserve a slot with a starting placeholder so concurrent acquires
	// respect the warm cap, then spawn outside the lock.
	mi := &managedInstance{
		inst: &types.Instance{
			ID:              uuid.New().String(),
			FunctionID:      fn.ID,
			FunctionVersion: fn.Version,
			Status:          types.InstanceStatusStarting,
			StartedAt:       s.clock.Now(),
		},
	}
	fs.instances = append(fs.instances, mi)
	logs := fs.logs
	s.mu.Unlock()

	if err := s.createInstance(ctx, fn, mi, logs); err != nil {
		s.mu.Lock()
		s.removeInstanceLocked(functionID, mi)
		s.mu.Unlock()
		return nil, trace.Wrap(err)
	}

	s.mu.Lock()
	s.claim(mi)
	s.mu.Unlock()
	return mi, nil
}

// createInstance allocates a port, launches the worker process and waits for
// readiness. The port is released on any failure.
func (s *Supervisor) createInstance(ctx context.Context, fn *types.Function, mi *managedInstance, logs *logBuffer) error {
	port, err := s.ports.Allocate()
	if err != nil {
		return trace.Wrap(err)
	}

	env := types.WorkerEnv{
		Port:             port,
		FunctionID:       fn.ID,
		InstanceID:       mi.inst.ID,
		OwnerID:          fn.OwnerID,
		MemoryLimitMB:    fn.MemoryLimitMB,
		TimeoutMs:        fn.TimeoutMs,
		NetworkID:        s.cfg.NetworkID,
		PublicGatewayURL: s.cfg.PublicGatewayURL,
		KeyServiceURL:    s.cfg.KeyServiceURL,
	}

	proc, err := s.launcher.Launch(ctx, fn, env, logs)
	if err != nil {
		s.ports.Release(port)
		return trace.Wrap(err)
	}

	s.mu.Lock()
	mi.inst.Port = port
	mi.inst.Status = types.InstanceStatusReady
	mi.inst.LastUsedAt = s.clock.Now()
	mi.proc = proc
	s.mu.Unlock()

	if s.broker != nil {
		s.broker.Emit(events.EventInstanceStarted, mi.inst.ID, map[string]string{
			"function_id": fn.ID,
			"instance_id": mi.inst.ID,
		})
	}
	metrics.InstancesTotal.WithLabelValues(string(types.InstanceStatusReady)).Inc()
	s.logger.Info().
		Str("function_id", fn.ID).
		Str("instance_id", mi.inst.ID).
		Int("port", port).
		Msg("instance ready")
	return nil
}

// claim marks an instance as carrying one more invocation. Lock held.
func (s *Supervisor) claim(mi *managedInstance) {
	mi.inst.ActiveInvocations++
	mi.inst.TotalInvocations++
	mi.inst.Status = types.InstanceStatusBusy
	mi.inst.LastUsedAt = s.clock.Now()
}

// finish marks an invocation done and returns the instance to ready when
// idle.
func (s *Supervisor) finish(mi *managedInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mi.inst.ActiveInvocations--
	if mi.inst.ActiveInvocations <= 0 {
		mi.inst.ActiveInvocations = 0
		if mi.inst.Status == types.InstanceStatusBusy {
			mi.inst.Status = types.InstanceStatusReady
		}
	}
	mi.inst.LastUsedAt = s.clock.Now()
}

// removeInstanceLocked drops an instance from its function's list and
// releases its port. Lock held.
func (s *Supervisor) removeInstanceLocked(functionID string, mi *managedInstance) {
	s.detachInstanceLocked(functionID, mi)
	if mi.inst.Port != 0 {
		s.ports.Release(mi.inst.Port)
		mi.inst.Port = 0
	}
}

// detachInstanceLocked drops an instance from its function's list without
// touching its port. Lock held.
func (s *Supervisor) detachInstanceLocked(functionID string, mi *managedInstance) {
	fs, ok := s.functions[functionID]
	if !ok {
		return
	}
	for i, x := range fs.instances {
		if x == mi {
			fs.instances = append(fs.instances[:i], fs.instances[i+1:]...)
			return
		}
	}
}

// reapLoop periodically removes crashed instances and trims idle ones,
// always keeping one warm instance per function.
func (s *Supervisor) reapLoop() {
	ticker := s.clock.NewTicker(s.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			s.reap()
		case <-s.stopCh:
			return
		}
	}
}

// reap performs one reaper pass.
func (s *Supervisor) reap() {
	type victim struct {
		functionID string
		mi         *managedInstance
		reason     string
	}
	var victims []victim

	s.mu.Lock()
	now := s.clock.Now()
	for fid, fs := range s.functions {
		live := len(fs.instances)
		for _, mi := range fs.instances {
			if mi.proc != nil && mi.proc.Exited() {
				victims = append(victims, victim{fid, mi, "crashed"})
				live--
				continue
			}
			idle := mi.inst.Status == types.InstanceStatusReady &&
				mi.inst.ActiveInvocations == 0 &&
				now.Sub(mi.inst.LastUsedAt) > s.cfg.IdleTimeout
			// Keep at least one warm instance per function.
			if idle && live > 1 {
				mi.inst.Status = types.InstanceStatusStopping
				victims = append(victims, victim{fid, mi, "idle"})
				live--
			}
		}
	}
	for _, v := range victims {
		s.detachInstanceLocked(v.functionID, v.mi)
	}
	s.mu.Unlock()

	// Stop processes outside the lock; crashed ones are already gone. The
	// port is released only once the process no longer holds it.
	for _, v := range victims {
		if v.reason == "idle" && v.mi.proc != nil {
			if err := v.mi.proc.Stop(s.cfg.DrainTimeout); err != nil {
				v.mi.proc.Kill()
			}
		}
		v.mi.inst.Status = types.InstanceStatusStopped
		if v.mi.inst.Port != 0 {
			s.ports.Release(v.mi.inst.Port)
		}

		metrics.InstancesReaped.WithLabelValues(v.reason).Inc()
		if s.broker != nil {
			typ := events.EventInstanceReaped
			if v.reason == "crashed" {
				typ = events.EventInstanceCrashed
			}
			s.broker.Emit(typ, v.mi.inst.ID, map[string]string{
				"function_id": v.functionID,
				"instance_id": v.mi.inst.ID,
				"reason":      v.reason,
			})
		}
		s.logger.Debug().
			Str("function_id", v.functionID).
			Str("instance_id", v.mi.inst.ID).
			Str("reason", v.reason).
			Msg("instance reaped")
	}
}
