package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/dwsnet/roost/pkg/backup"
	"github.com/dwsnet/roost/pkg/events"
	"github.com/dwsnet/roost/pkg/log"
	"github.com/dwsnet/roost/pkg/metrics"
	"github.com/dwsnet/roost/pkg/pool"
	"github.com/dwsnet/roost/pkg/storage"
	"github.com/dwsnet/roost/pkg/types"
)

var dbNameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// transitions is the authoritative state machine. A transition absent here
// is illegal; failed is reachable from anywhere.
var transitions = map[types.DatabaseStatus][]types.DatabaseStatus{
	types.DatabaseStatusPending:      {types.DatabaseStatusProvisioning},
	types.DatabaseStatusProvisioning: {types.DatabaseStatusRunning},
	types.DatabaseStatusRunning: {
		types.DatabaseStatusScaling,
		types.DatabaseStatusBackingUp,
		types.DatabaseStatusRestoring,
		types.DatabaseStatusStopped,
		types.DatabaseStatusTerminated,
	},
	types.DatabaseStatusScaling:   {types.DatabaseStatusRunning},
	types.DatabaseStatusBackingUp: {types.DatabaseStatusRunning},
	types.DatabaseStatusRestoring: {types.DatabaseStatusRunning},
	types.DatabaseStatusStopped:   {types.DatabaseStatusProvisioning, types.DatabaseStatusTerminated},
}

// credentials is the private per-instance secret material. Never serialized.
type credentials struct {
	Username string
	Password string
	Token    string
}

// ConnectionInfo is the engine-shaped connection material returned by
// GetConnection.
type ConnectionInfo struct {
	Engine           types.DatabaseEngine
	Endpoint         string
	ConnectionString string
	Username         string
	Password         string
	Token            string
}

// CreateParams is the caller-facing shape of Create. Zero config fields are
// defaulted.
type CreateParams struct {
	Name   string
	Engine types.DatabaseEngine
	Region string
	Config types.DatabaseConfig
}

// UpdateParams patches a running instance. Nil fields are left untouched.
type UpdateParams struct {
	VCPUs          *int
	MemoryMB       *int
	StorageGB      *int
	Replicas       *int
	MaxConnections *int
	PoolSize       *int
}

// Config holds controller configuration.
type Config struct {
	Region string
	Domain string // endpoint suffix, e.g. "db.roost.internal"
}

// Controller drives tenant database instances through their lifecycle and
// coordinates the pool manager and the backup worker.
type Controller struct {
	mu sync.Mutex

	cfg     Config
	pools   *pool.Manager
	backups *backup.Worker
	journal storage.Store
	broker  *events.Broker
	clock   clockwork.Clock
	logger  zerolog.Logger

	instances map[string]*types.DatabaseInstance
	creds     map[string]credentials
	jobs      map[string]*types.Backup
	replicas  map[string][]*types.Replica

	wg sync.WaitGroup
}

// NewController creates a lifecycle controller. The journal and broker may
// be nil.
func NewController(cfg Config, pools *pool.Manager, backups *backup.Worker, journal storage.Store, broker *events.Broker, clock clockwork.Clock) *Controller {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.Domain == "" {
		cfg.Domain = "db.roost.internal"
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Controller{
		cfg:       cfg,
		pools:     pools,
		backups:   backups,
		journal:   journal,
		broker:    broker,
		clock:     clock,
		logger:    log.WithComponent("lifecycle"),
		instances: make(map[string]*types.DatabaseInstance),
		creds:     make(map[string]credentials),
		jobs:      make(map[string]*types.Backup),
		replicas:  make(map[string][]*types.Replica),
	}
}

// Wait blocks until all background jobs have finished. Used on shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Create validates the request, stores the instance in pending and kicks
// off asynchronous provisioning. The instance is returned immediately.
func (c *Controller) Create(ctx context.Context, ownerID string, params CreateParams) (*types.DatabaseInstance, error) {
	if ownerID == "" {
		return nil, trace.AccessDenied("owner identity is required")
	}
	if len(params.Name) == 0 || len(params.Name) > 63 || !dbNameRe.MatchString(params.Name) {
		return nil, trace.BadParameter("database name %q must be lowercase alphanumeric with hyphens, at most 63 chars", params.Name)
	}
	if params.Engine != types.EngineDocument && params.Engine != types.EngineRelational {
		return nil, trace.BadParameter("unsupported engine %q", params.Engine)
	}

	now := c.clock.Now()
	inst := &types.DatabaseInstance{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Engine:    params.Engine,
		Name:      params.Name,
		Status:    types.DatabaseStatusPending,
		Config:    applyConfigDefaults(params.Config),
		Region:    params.Region,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if inst.Region == "" {
		inst.Region = c.cfg.Region
	}

	c.mu.Lock()
	c.instances[inst.ID] = inst
	c.persistLocked(inst)
	c.mu.Unlock()

	metrics.DatabasesTotal.WithLabelValues(string(types.DatabaseStatusPending)).Inc()
	if c.broker != nil {
		c.broker.Emit(events.EventDatabaseCreated, inst.Name, map[string]string{"database_id": inst.ID})
	}
	c.logger.Info().
		Str("database_id", inst.ID).
		Str("engine", string(inst.Engine)).
		Str("name", inst.Name).
		Msg("database created")

	c.startProvision(inst.ID)

	cp := *inst
	return &cp, nil
}

// startProvision transitions to provisioning and runs provision in the
// background. Provisioning failures are terminal: the instance lands in
// failed with the error on its status message, never retried.
func (c *Controller) startProvision(id string) {
	c.mu.Lock()
	inst, ok := c.instances[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	if err := c.setStatusLocked(inst, types.DatabaseStatusProvisioning, ""); err != nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.provision(id); err != nil {
			c.mu.Lock()
			if inst, ok := c.instances[id]; ok {
				c.failLocked(inst, err)
			}
			c.mu.Unlock()
		}
	}()
}

// provision generates credentials and endpoint, builds the connection
// string, configures the pool for the relational engine and moves the
// instance to running. Credentials are deterministic from the identifier.
func (c *Controller) provision(id string) error {
	c.mu.Lock()
	inst, ok := c.instances[id]
	if !ok {
		c.mu.Unlock()
		return trace.NotFound("database %q not found", id)
	}
	engine := inst.Engine
	name := inst.Name
	cfg := inst.Config
	c.mu.Unlock()

	creds := deriveCredentials(id)
	endpoint := c.endpoint(id, "")

	var connStr string
	switch engine {
	case types.EngineDocument:
		connStr = fmt.Sprintf("https://%s", endpoint)
	case types.EngineRelational:
		connStr = fmt.Sprintf("postgres://%s:%s@%s:5432/%s", creds.Username, creds.Password, endpoint, name)
		c.pools.Configure(id, types.PoolConfig{
			Mode:            types.PoolModeTransaction,
			DefaultPoolSize: cfg.PoolSize,
			MaxClientConns:  cfg.MaxConnections,
		})
	default:
		return trace.BadParameter("unsupported engine %q", engine)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok = c.instances[id]
	if !ok {
		return trace.NotFound("database %q not found", id)
	}
	c.creds[id] = creds
	inst.ConnectionString = connStr
	return trace.Wrap(c.setStatusLocked(inst, types.DatabaseStatusRunning, ""))
}

// Get returns the instance record, owner-gated.
func (c *Controller) Get(id, ownerID string) (*types.DatabaseInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	cp := *inst
	return &cp, nil
}

// List returns the owner's instances.
func (c *Controller) List(ownerID string) []*types.DatabaseInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.DatabaseInstance, 0)
	for _, inst := range c.instances {
		if inst.OwnerID == ownerID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out
}

// Update scales a running instance: running → scaling → running. The pool
// is reconfigured when the pool size changes.
func (c *Controller) Update(ctx context.Context, id, ownerID string, patch UpdateParams) (*types.DatabaseInstance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := c.setStatusLocked(inst, types.DatabaseStatusScaling, ""); err != nil {
		return nil, trace.Wrap(err)
	}

	poolChanged := false
	if patch.VCPUs != nil {
		inst.Config.VCPUs = *patch.VCPUs
	}
	if patch.MemoryMB != nil {
		inst.Config.MemoryMB = *patch.MemoryMB
	}
	if patch.StorageGB != nil {
		inst.Config.StorageGB = *patch.StorageGB
	}
	if patch.Replicas != nil {
		inst.Config.Replicas = *patch.Replicas
	}
	if patch.MaxConnections != nil {
		inst.Config.MaxConnections = *patch.MaxConnections
		poolChanged = true
	}
	if patch.PoolSize != nil {
		inst.Config.PoolSize = *patch.PoolSize
		poolChanged = true
	}
	if poolChanged && inst.Engine == types.EngineRelational {
		c.pools.Configure(id, types.PoolConfig{
			Mode:            types.PoolModeTransaction,
			DefaultPoolSize: inst.Config.PoolSize,
			MaxClientConns:  inst.Config.MaxConnections,
		})
	}

	if err := c.setStatusLocked(inst, types.DatabaseStatusRunning, ""); err != nil {
		return nil, trace.Wrap(err)
	}
	cp := *inst
	return &cp, nil
}

// Stop destroys the pool and parks the instance in stopped.
func (c *Controller) Stop(id, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := c.setStatusLocked(inst, types.DatabaseStatusStopped, ""); err != nil {
		return trace.Wrap(err)
	}
	c.pools.Destroy(id)
	return nil
}

// Start re-provisions a stopped instance.
func (c *Controller) Start(id, ownerID string) error {
	c.mu.Lock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		c.mu.Unlock()
		return trace.Wrap(err)
	}
	if inst.Status != types.DatabaseStatusStopped {
		c.mu.Unlock()
		return trace.CompareFailed("database %q is %s, not stopped", id, inst.Status)
	}
	c.mu.Unlock()

	c.startProvision(id)
	return nil
}

// Delete terminates the instance. The record is retained for audit;
// credentials and pool are dropped.
func (c *Controller) Delete(id, ownerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := c.setStatusLocked(inst, types.DatabaseStatusTerminated, ""); err != nil {
		return trace.Wrap(err)
	}
	c.pools.Destroy(id)
	delete(c.creds, id)
	inst.ConnectionString = ""
	if c.broker != nil {
		c.broker.Emit(events.EventDatabaseDeleted, inst.Name, map[string]string{"database_id": id})
	}
	return nil
}

// GetConnection returns engine-shaped connection material. Running only.
func (c *Controller) GetConnection(id, ownerID string) (*ConnectionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if inst.Status != types.DatabaseStatusRunning {
		return nil, trace.CompareFailed("database %q is %s, not running", id, inst.Status)
	}
	creds := c.creds[id]
	info := &ConnectionInfo{
		Engine:           inst.Engine,
		Endpoint:         c.endpoint(id, ""),
		ConnectionString: inst.ConnectionString,
	}
	switch inst.Engine {
	case types.EngineDocument:
		info.Token = creds.Token
	case types.EngineRelational:
		info.Username = creds.Username
		info.Password = creds.Password
	}
	return info, nil
}

// CreateBackup parks the instance in backing_up, enqueues the job and
// returns the pending Backup record immediately. The record is the job's
// status surface: the worker's result is applied to it under the controller
// lock, so it stays safe to poll. On completion the instance returns to
// running.
func (c *Controller) CreateBackup(ctx context.Context, id, ownerID string, automatic bool) (*types.Backup, error) {
	c.mu.Lock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		c.mu.Unlock()
		return nil, trace.Wrap(err)
	}
	if err := c.setStatusLocked(inst, types.DatabaseStatusBackingUp, ""); err != nil {
		c.mu.Unlock()
		return nil, trace.Wrap(err)
	}

	now := c.clock.Now()
	b := &types.Backup{
		ID:         uuid.New().String(),
		InstanceID: id,
		Status:     types.BackupStatusPending,
		Automatic:  automatic,
	}
	if inst.Config.BackupRetention > 0 {
		b.ExpiresAt = now.AddDate(0, 0, inst.Config.BackupRetention)
	}
	c.jobs[b.ID] = b
	target := c.targetLocked(inst)
	c.mu.Unlock()

	if c.broker != nil {
		c.broker.Emit(events.EventBackupStarted, b.ID, map[string]string{"database_id": id, "backup_id": b.ID})
	}

	// Snapshot the pending record before the job goroutine can write to it.
	cp := *b

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		c.mu.Lock()
		b.Status = types.BackupStatusInProgress
		b.StartedAt = c.clock.Now()
		c.mu.Unlock()

		res, err := c.backups.Run(context.WithoutCancel(ctx), b.ID, target)

		c.mu.Lock()
		b.CID = res.CID
		b.SizeBytes = res.SizeBytes
		b.EndedAt = res.EndedAt
		b.Error = res.Error
		b.Status = types.BackupStatusCompleted
		if err != nil {
			b.Status = types.BackupStatusFailed
		}
		if inst, ok := c.instances[id]; ok {
			if err == nil {
				inst.LastBackupAt = b.EndedAt
			}
			// The instance returns to running either way; a failed job
			// is visible on the Backup record, not the instance.
			if serr := c.setStatusLocked(inst, types.DatabaseStatusRunning, ""); serr != nil {
				c.logger.Warn().Err(serr).Str("database_id", id).Msg("post-backup transition failed")
			}
		}
		if c.journal != nil {
			cp := *b
			if jerr := c.journal.PutBackup(&cp); jerr != nil {
				c.logger.Warn().Err(jerr).Str("backup_id", b.ID).Msg("journal write failed")
			}
		}
		c.mu.Unlock()

		if c.broker != nil {
			typ := events.EventBackupCompleted
			if err != nil {
				typ = events.EventBackupFailed
			}
			c.broker.Emit(typ, b.ID, map[string]string{"database_id": id, "backup_id": b.ID})
		}
	}()

	return &cp, nil
}

// RestoreBackup loads a completed backup into the instance:
// running → restoring → running.
func (c *Controller) RestoreBackup(ctx context.Context, id, backupID, ownerID string) error {
	c.mu.Lock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		c.mu.Unlock()
		return trace.Wrap(err)
	}
	b, ok := c.jobs[backupID]
	if !ok {
		c.mu.Unlock()
		return trace.NotFound("backup %q not found", backupID)
	}
	if b.Status != types.BackupStatusCompleted {
		c.mu.Unlock()
		return trace.CompareFailed("backup %q is %s, not completed", backupID, b.Status)
	}
	if err := c.setStatusLocked(inst, types.DatabaseStatusRestoring, ""); err != nil {
		c.mu.Unlock()
		return trace.Wrap(err)
	}
	target := c.targetLocked(inst)
	cid := b.CID
	c.mu.Unlock()

	restoreErr := c.backups.Restore(ctx, target, cid)

	c.mu.Lock()
	defer c.mu.Unlock()
	if inst, ok := c.instances[id]; ok {
		if serr := c.setStatusLocked(inst, types.DatabaseStatusRunning, ""); serr != nil {
			c.logger.Warn().Err(serr).Str("database_id", id).Msg("post-restore transition failed")
		}
	}
	return trace.Wrap(restoreErr)
}

// GetBackup returns a backup record, gated through its instance owner.
func (c *Controller) GetBackup(backupID, ownerID string) (*types.Backup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.jobs[backupID]
	if !ok {
		return nil, trace.NotFound("backup %q not found", backupID)
	}
	if _, err := c.authorizedLocked(b.InstanceID, ownerID); err != nil {
		return nil, trace.Wrap(err)
	}
	cp := *b
	return &cp, nil
}

// ListBackups returns an instance's backups.
func (c *Controller) ListBackups(id, ownerID string) ([]*types.Backup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.authorizedLocked(id, ownerID); err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*types.Backup, 0)
	for _, b := range c.jobs {
		if b.InstanceID == id {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CreateReplica derives a read replica for a running relational instance.
// Promotion is a status change only, handled elsewhere.
func (c *Controller) CreateReplica(id, ownerID, region string) (*types.Replica, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, err := c.authorizedLocked(id, ownerID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if inst.Engine != types.EngineRelational {
		return nil, trace.CompareFailed("replicas require the relational engine")
	}
	if inst.Status != types.DatabaseStatusRunning {
		return nil, trace.CompareFailed("database %q is %s, not running", id, inst.Status)
	}
	if region == "" {
		region = inst.Region
	}
	n := len(c.replicas[id]) + 1
	r := &types.Replica{
		ID:        uuid.New().String(),
		PrimaryID: id,
		Role:      types.ReplicaRoleReadReplica,
		Endpoint:  c.endpoint(id, fmt.Sprintf("r%d-%s", n, region)),
		Region:    region,
		Healthy:   true,
		CreatedAt: c.clock.Now(),
	}
	c.replicas[id] = append(c.replicas[id], r)
	cp := *r
	return &cp, nil
}

// ListReplicas returns an instance's replicas.
func (c *Controller) ListReplicas(id, ownerID string) ([]*types.Replica, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.authorizedLocked(id, ownerID); err != nil {
		return nil, trace.Wrap(err)
	}
	out := make([]*types.Replica, 0, len(c.replicas[id]))
	for _, r := range c.replicas[id] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

// PoolStats exposes the instance's pool snapshot.
func (c *Controller) PoolStats(id, ownerID string) (types.PoolStats, error) {
	c.mu.Lock()
	if _, err := c.authorizedLocked(id, ownerID); err != nil {
		c.mu.Unlock()
		return types.PoolStats{}, trace.Wrap(err)
	}
	c.mu.Unlock()
	return c.pools.Stats(id)
}

func (c *Controller) authorizedLocked(id, ownerID string) (*types.DatabaseInstance, error) {
	inst, ok := c.instances[id]
	if !ok {
		return nil, trace.NotFound("database %q not found", id)
	}
	if inst.OwnerID != ownerID {
		return nil, trace.AccessDenied("database %q does not belong to %q", id, ownerID)
	}
	return inst, nil
}

// setStatusLocked enforces the state machine and records the change. Lock
// held.
func (c *Controller) setStatusLocked(inst *types.DatabaseInstance, to types.DatabaseStatus, msg string) error {
	if to != types.DatabaseStatusFailed && !allowed(inst.Status, to) {
		return trace.CompareFailed("database %q cannot move %s -> %s", inst.ID, inst.Status, to)
	}
	metrics.DatabasesTotal.WithLabelValues(string(inst.Status)).Dec()
	metrics.DatabasesTotal.WithLabelValues(string(to)).Inc()
	from := inst.Status
	inst.Status = to
	inst.StatusMessage = msg
	inst.UpdatedAt = c.clock.Now()
	c.persistLocked(inst)

	if c.broker != nil {
		c.broker.Emit(events.EventDatabaseStatus, inst.Name, map[string]string{
			"database_id": inst.ID,
			"from":        string(from),
			"to":          string(to),
		})
	}
	c.logger.Debug().
		Str("database_id", inst.ID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("database transition")
	return nil
}

// failLocked moves the instance to failed and surfaces the error via the
// status message. Lock held.
func (c *Controller) failLocked(inst *types.DatabaseInstance, err error) {
	if serr := c.setStatusLocked(inst, types.DatabaseStatusFailed, err.Error()); serr != nil {
		c.logger.Error().Err(serr).Str("database_id", inst.ID).Msg("failed transition rejected")
		return
	}
	c.logger.Error().Err(err).Str("database_id", inst.ID).Msg("database failed")
}

func (c *Controller) persistLocked(inst *types.DatabaseInstance) {
	if c.journal == nil {
		return
	}
	cp := *inst
	if err := c.journal.PutDatabase(&cp); err != nil {
		c.logger.Warn().Err(err).Str("database_id", inst.ID).Msg("journal write failed")
	}
}

// targetLocked builds the backup worker's view of the instance. Lock held.
func (c *Controller) targetLocked(inst *types.DatabaseInstance) backup.Target {
	creds := c.creds[inst.ID]
	return backup.Target{
		InstanceID:       inst.ID,
		Engine:           inst.Engine,
		Endpoint:         "https://" + c.endpoint(inst.ID, ""),
		AuthToken:        creds.Token,
		ConnectionString: inst.ConnectionString,
	}
}

// endpoint derives a deterministic hostname from the instance identifier.
func (c *Controller) endpoint(id, suffix string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	if suffix != "" {
		return fmt.Sprintf("%s-%s.%s", short, suffix, c.cfg.Domain)
	}
	return fmt.Sprintf("%s.%s", short, c.cfg.Domain)
}

func allowed(from, to types.DatabaseStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// deriveCredentials produces credentials deterministically from the
// identifier so provisioning is reproducible.
func deriveCredentials(id string) credentials {
	sum := sha256.Sum256([]byte("roost-db-" + id))
	hx := hex.EncodeToString(sum[:])
	return credentials{
		Username: "u_" + hx[:12],
		Password: hx[12:36],
		Token:    hx[36:],
	}
}

// applyConfigDefaults fills zero config fields with the platform defaults.
func applyConfigDefaults(cfg types.DatabaseConfig) types.DatabaseConfig {
	if cfg.VCPUs == 0 {
		cfg.VCPUs = 1
	}
	if cfg.MemoryMB == 0 {
		cfg.MemoryMB = 1024
	}
	if cfg.StorageGB == 0 {
		cfg.StorageGB = 10
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 100
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 20
	}
	if cfg.BackupRetention == 0 {
		cfg.BackupRetention = 7
	}
	if cfg.Consistency == "" {
		cfg.Consistency = types.ConsistencyEventual
	}
	return cfg
}
