package supervisor

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dwsnet/roost/pkg/events"
	"github.com/dwsnet/roost/pkg/launcher"
	"github.com/dwsnet/roost/pkg/log"
	"github.com/dwsnet/roost/pkg/metrics"
	"github.com/dwsnet/roost/pkg/netalloc"
	"github.com/dwsnet/roost/pkg/storage"
	"github.com/dwsnet/roost/pkg/types"
)

const (
	// durationSampleCap bounds the per-function duration ring.
	durationSampleCap = 1000

	// rpsWindow is the sliding window for requests-per-second.
	rpsWindow = time.Minute
)

var functionNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Process is the supervisor's view of a spawned worker subprocess.
type Process interface {
	PID() int
	Exited() bool
	ExitCode() int
	Done() <-chan struct{}
	Stop(grace time.Duration) error
	Kill() error
}

// Launcher spawns worker processes. Satisfied by the adapter around
// launcher.Launcher; tests plug in fakes.
type Launcher interface {
	EnsureArtifact(ctx context.Context, cid string) (string, error)
	Launch(ctx context.Context, fn *types.Function, env types.WorkerEnv, logs io.Writer) (Process, error)
}

// launcherAdapter lifts the concrete launcher into the Launcher interface.
type launcherAdapter struct {
	l *launcher.Launcher
}

func (a launcherAdapter) EnsureArtifact(ctx context.Context, cid string) (string, error) {
	return a.l.EnsureArtifact(ctx, cid)
}

func (a launcherAdapter) Launch(ctx context.Context, fn *types.Function, env types.WorkerEnv, logs io.Writer) (Process, error) {
	return a.l.Launch(ctx, fn, env, logs)
}

// NewProcessLauncher wraps a concrete launcher for the supervisor.
func NewProcessLauncher(l *launcher.Launcher) Launcher {
	return launcherAdapter{l: l}
}

// Config holds supervisor configuration.
type Config struct {
	MaxWarmInstances         int
	MaxConcurrentInvocations int
	IdleTimeout              time.Duration
	DrainTimeout             time.Duration
	ReapInterval             time.Duration

	// Curated public configuration handed to every worker.
	NetworkID        string
	PublicGatewayURL string
	KeyServiceURL    string
}

// managedInstance pairs the instance record with its process handle.
type managedInstance struct {
	inst *types.Instance
	proc Process
}

// functionState is everything the supervisor tracks per function.
type functionState struct {
	fn        *types.Function
	instances []*managedInstance
	logs      *logBuffer
	samples   *durationRing
	// invocation start times within the RPS window, oldest first
	recentInvocations []time.Time
}

// Supervisor maintains a warm pool of worker instances per function, routes
// HTTP invocations to them, and reaps idle or crashed instances.
type Supervisor struct {
	mu sync.Mutex

	cfg      Config
	launcher Launcher
	ports    *netalloc.PortAllocator
	journal  storage.Store
	broker   *events.Broker
	clock    clockwork.Clock
	logger   zerolog.Logger

	functions  map[string]*functionState
	httpClient *http.Client
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewSupervisor creates a supervisor. The journal and broker may be nil.
func NewSupervisor(cfg Config, l Launcher, ports *netalloc.PortAllocator, journal storage.Store, broker *events.Broker, clock clockwork.Clock) *Supervisor {
	if cfg.MaxWarmInstances == 0 {
		cfg.MaxWarmInstances = 5
	}
	if cfg.MaxConcurrentInvocations == 0 {
		cfg.MaxConcurrentInvocations = 10
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.ReapInterval == 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Supervisor{
		cfg:        cfg,
		launcher:   l,
		ports:      ports,
		journal:    journal,
		broker:     broker,
		clock:      clock,
		logger:     log.WithComponent("supervisor"),
		functions:  make(map[string]*functionState),
		httpClient: &http.Client{},
		stopCh:     make(chan struct{}),
	}
}

// Start launches the background reaper.
func (s *Supervisor) Start() {
	go s.reapLoop()
}

// Stop halts the reaper and tears down every instance.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	ids := make([]string, 0, len(s.functions))
	for id := range s.functions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.UndeployFunction(context.Background(), id); err != nil {
			s.logger.Warn().Err(err).Str("function_id", id).Msg("teardown failed during stop")
		}
	}
}

// DeployFunction validates the function, pre-fetches its code artifact and
// registers it with an empty instance list.
func (s *Supervisor) DeployFunction(ctx context.Context, fn *types.Function) error {
	if err := validateFunction(fn); err != nil {
		return trace.Wrap(err)
	}

	// Warm the artifact cache before the function is visible; a cid the
	// content store cannot serve fails the deploy outright.
	if _, err := s.launcher.EnsureArtifact(ctx, fn.CodeCID); err != nil {
		return trace.Wrap(err)
	}

	s.mu.Lock()
	if _, exists := s.functions[fn.ID]; exists {
		s.mu.Unlock()
		return trace.AlreadyExists("function %q already deployed", fn.ID)
	}
	now := s.clock.Now()
	fn.Status = types.FunctionStatusActive
	if fn.Version == 0 {
		fn.Version = 1
	}
	fn.CreatedAt = now
	fn.UpdatedAt = now
	s.functions[fn.ID] = &functionState{
		fn:      fn,
		logs:    newLogBuffer(1000),
		samples: newDurationRing(durationSampleCap),
	}
	s.mu.Unlock()

	if s.journal != nil {
		if err := s.journal.PutFunction(fn); err != nil {
			s.logger.Warn().Err(err).Str("function_id", fn.ID).Msg("journal write failed")
		}
	}
	if s.broker != nil {
		s.broker.Emit(events.EventFunctionDeployed, fn.Name, map[string]string{"function_id": fn.ID})
	}
	metrics.FunctionsTotal.Inc()
	s.logger.Info().Str("function_id", fn.ID).Str("name", fn.Name).Str("cid", fn.CodeCID).Msg("function deployed")
	return nil
}

// UndeployFunction drains and stops every instance, releases their ports and
// drops all per-function state.
func (s *Supervisor) UndeployFunction(ctx context.Context, functionID string) error {
	s.mu.Lock()
	fs, ok := s.functions[functionID]
	if !ok {
		s.mu.Unlock()
		return trace.NotFound("function %q not found", functionID)
	}
	instances := fs.instances
	fs.instances = nil
	delete(s.functions, functionID)
	s.mu.Unlock()

	// Graceful drain, then kill. Ports are released only after the process
	// is gone.
	g, _ := errgroup.WithContext(ctx)
	for _, mi := range instances {
		g.Go(func() error {
			mi.inst.Status = types.InstanceStatusStopping
			if mi.proc != nil {
				if err := mi.proc.Stop(s.cfg.DrainTimeout); err != nil {
					s.logger.Warn().Err(err).Str("instance_id", mi.inst.ID).Msg("stop failed, killing")
					mi.proc.Kill()
				}
			}
			mi.inst.Status = types.InstanceStatusStopped
			s.ports.Release(mi.inst.Port)
			return nil
		})
	}
	g.Wait()

	if s.journal != nil {
		if err := s.journal.DeleteFunction(functionID); err != nil {
			s.logger.Warn().Err(err).Str("function_id", functionID).Msg("journal delete failed")
		}
	}
	if s.broker != nil {
		s.broker.Emit(events.EventFunctionUndeployed, functionID, map[string]string{"function_id": functionID})
	}
	metrics.FunctionsTotal.Dec()
	s.logger.Info().Str("function_id", functionID).Int("instances", len(instances)).Msg("function undeployed")
	return nil
}

// GetFunction returns the function record.
func (s *Supervisor) GetFunction(functionID string) (*types.Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.functions[functionID]
	if !ok {
		return nil, trace.NotFound("function %q not found", functionID)
	}
	cp := *fs.fn
	return &cp, nil
}

// ListFunctions returns all deployed functions.
func (s *Supervisor) ListFunctions() []*types.Function {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Function, 0, len(s.functions))
	for _, fs := range s.functions {
		cp := *fs.fn
		out = append(out, &cp)
	}
	return out
}

// ListInstances returns the current instance records of a function.
func (s *Supervisor) ListInstances(functionID string) ([]*types.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.functions[functionID]
	if !ok {
		return nil, trace.NotFound("function %q not found", functionID)
	}
	out := make([]*types.Instance, 0, len(fs.instances))
	for _, mi := range fs.instances {
		cp := *mi.inst
		out = append(out, &cp)
	}
	return out, nil
}

// Logs returns up to n recent log lines of a function's workers.
func (s *Supervisor) Logs(functionID string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fs, ok := s.functions[functionID]
	if !ok {
		return nil, trace.NotFound("function %q not found", functionID)
	}
	return fs.logs.Tail(n), nil
}

func validateFunction(fn *types.Function) error {
	if fn.ID == "" {
		return trace.BadParameter("function id is required")
	}
	if len(fn.Name) == 0 || len(fn.Name) > 63 || !functionNameRe.MatchString(fn.Name) {
		return trace.BadParameter("function name %q must be lowercase alphanumeric with hyphens, at most 63 chars", fn.Name)
	}
	if fn.CodeCID == "" {
		return trace.BadParameter("function %q has no code artifact", fn.Name)
	}
	if fn.MemoryLimitMB <= 0 {
		return trace.BadParameter("function %q has invalid memory limit %d", fn.Name, fn.MemoryLimitMB)
	}
	if fn.TimeoutMs <= 0 {
		return trace.BadParameter("function %q has invalid timeout %d", fn.Name, fn.TimeoutMs)
	}
	return nil
}
