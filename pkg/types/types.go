package types

import (
	"time"
)

// Function is a deployable unit of tenant code.
type Function struct {
	ID            string
	Name          string
	OwnerID       string
	CodeCID       string // content-hash of the code artifact
	EntryPoint    string
	MemoryLimitMB int
	TimeoutMs     int
	Version       int
	Status        FunctionStatus
	Env           map[string]string // non-secret environment
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Rolling counters, maintained by the supervisor.
	InvocationCount int64
	ErrorCount      int64
	AvgDurationMs   float64
}

// FunctionStatus represents the deployment state of a function
type FunctionStatus string

const (
	FunctionStatusActive   FunctionStatus = "active"
	FunctionStatusInactive FunctionStatus = "inactive"
)

// Instance is one running process materializing a Function.
type Instance struct {
	ID                string
	FunctionID        string
	FunctionVersion   int
	Port              int
	Status            InstanceStatus
	ActiveInvocations int
	TotalInvocations  int64
	StartedAt         time.Time
	LastUsedAt        time.Time
}

// InstanceStatus represents the state of a worker instance
type InstanceStatus string

const (
	InstanceStatusStarting InstanceStatus = "starting"
	InstanceStatusReady    InstanceStatus = "ready"
	InstanceStatusBusy     InstanceStatus = "busy"
	InstanceStatusStopping InstanceStatus = "stopping"
	InstanceStatusStopped  InstanceStatus = "stopped"
	InstanceStatusError    InstanceStatus = "error"
)

// Invocation is one in-flight or completed call of a Function.
type Invocation struct {
	ID              string
	FunctionID      string
	Status          InvocationStatus
	StartedAt       time.Time
	EndedAt         time.Time
	DurationMs      int64
	Logs            []string
	MemoryPeakBytes int64
	Result          string
	Error           string
}

// InvocationStatus represents the state of an invocation
type InvocationStatus string

const (
	InvocationStatusPending InvocationStatus = "pending"
	InvocationStatusRunning InvocationStatus = "running"
	InvocationStatusSuccess InvocationStatus = "success"
	InvocationStatusError   InvocationStatus = "error"
	InvocationStatusTimeout InvocationStatus = "timeout"
)

// DatabaseEngine identifies one of the two supported database flavors.
type DatabaseEngine string

const (
	// EngineDocument is the document-style engine, dumped over HTTP.
	EngineDocument DatabaseEngine = "document"

	// EngineRelational is the relational engine, dumped via the external
	// dump utility.
	EngineRelational DatabaseEngine = "relational"
)

// DatabaseInstance is a tenant database driven by the lifecycle controller.
type DatabaseInstance struct {
	ID               string
	OwnerID          string
	Engine           DatabaseEngine
	Name             string
	Status           DatabaseStatus
	StatusMessage    string // populated on failed
	Config           DatabaseConfig
	ConnectionString string
	Region           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	LastBackupAt     time.Time
}

// DatabaseStatus represents the lifecycle state of a database instance
type DatabaseStatus string

const (
	DatabaseStatusPending      DatabaseStatus = "pending"
	DatabaseStatusProvisioning DatabaseStatus = "provisioning"
	DatabaseStatusRunning      DatabaseStatus = "running"
	DatabaseStatusScaling      DatabaseStatus = "scaling"
	DatabaseStatusBackingUp    DatabaseStatus = "backing_up"
	DatabaseStatusRestoring    DatabaseStatus = "restoring"
	DatabaseStatusStopped      DatabaseStatus = "stopped"
	DatabaseStatusTerminated   DatabaseStatus = "terminated"
	DatabaseStatusFailed       DatabaseStatus = "failed"
)

// DatabaseConfig holds the sizing and feature configuration of an instance.
type DatabaseConfig struct {
	VCPUs           int
	MemoryMB        int
	StorageGB       int
	Replicas        int
	MaxConnections  int
	PoolSize        int
	BackupRetention int // days
	Consistency     ConsistencyMode
	Encrypted       bool
	PublicAccess    bool
}

// ConsistencyMode is metadata for downstream consumers of the pool.
type ConsistencyMode string

const (
	ConsistencyStrong   ConsistencyMode = "strong"
	ConsistencyEventual ConsistencyMode = "eventual"
)

// Backup is a snapshot of a database instance stored in the content store.
type Backup struct {
	ID         string
	InstanceID string
	Status     BackupStatus
	StartedAt  time.Time
	EndedAt    time.Time
	SizeBytes  int64
	CID        string // content-hash of the stored dump, immutable once set
	ExpiresAt  time.Time
	Automatic  bool
	Error      string
}

// BackupStatus represents the state of a backup job
type BackupStatus string

const (
	BackupStatusPending    BackupStatus = "pending"
	BackupStatusInProgress BackupStatus = "in_progress"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
	BackupStatusExpired    BackupStatus = "expired"
)

// Replica is a read replica or standby of a relational instance.
type Replica struct {
	ID        string
	PrimaryID string
	Role      ReplicaRole
	Endpoint  string
	Region    string
	LagMs     int64
	Healthy   bool
	CreatedAt time.Time
}

// ReplicaRole defines the role a replica plays
type ReplicaRole string

const (
	ReplicaRolePrimary     ReplicaRole = "primary"
	ReplicaRoleReadReplica ReplicaRole = "read_replica"
	ReplicaRoleStandby     ReplicaRole = "standby"
)

// PoolMode is metadata describing how downstream multiplexes connections.
type PoolMode string

const (
	PoolModeTransaction PoolMode = "transaction"
	PoolModeSession     PoolMode = "session"
	PoolModeStatement   PoolMode = "statement"
)

// PoolConfig configures the connection pool of one database instance.
type PoolConfig struct {
	Mode            PoolMode
	DefaultPoolSize int
	MaxClientConns  int
	ReservePoolSize int
	QueryTimeout    time.Duration
	IdleTimeout     time.Duration
}

// PoolStats is a point-in-time snapshot of one pool.
type PoolStats struct {
	Size    int
	InUse   int
	Idle    int
	Waiters int
}

// CronSchedule is a recurring job definition targeting a function.
type CronSchedule struct {
	ID         string
	FunctionID string
	Name       string
	Expression string
	Timezone   string // IANA name, e.g. "UTC", "America/Bogota"
	Status     ScheduleStatus
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	OwnerID    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastRunAt  time.Time
	NextRunAt  time.Time

	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
}

// ScheduleStatus represents the state of a cron schedule
type ScheduleStatus string

const (
	ScheduleStatusActive   ScheduleStatus = "active"
	ScheduleStatusPaused   ScheduleStatus = "paused"
	ScheduleStatusDisabled ScheduleStatus = "disabled"
	ScheduleStatusError    ScheduleStatus = "error"
)

// CronExecution is one firing of a schedule, including retries.
type CronExecution struct {
	ID          string
	ScheduleID  string
	FunctionID  string
	Status      ExecutionStatus
	ScheduledAt time.Time
	StartedAt   time.Time
	EndedAt     time.Time
	Output      string
	ExitCode    int
	Attempt     int
	MaxAttempts int
}

// ExecutionStatus represents the state of a cron execution
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSuccess   ExecutionStatus = "success"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusTimeout   ExecutionStatus = "timeout"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// InvokeResult is what the cron invoker capability returns.
type InvokeResult struct {
	Output   string
	ExitCode int
}

// HTTPEvent is the HTTP-shaped request forwarded to a worker instance.
type HTTPEvent struct {
	Method  string
	Path    string // may carry a query string
	Headers map[string]string
	Body    []byte
}

// HTTPResult is the response produced by a worker instance.
type HTTPResult struct {
	StatusCode int
	Headers    map[string]string
	Body       string

	// TimedOut is set when the result was synthesized from an upstream
	// timeout rather than returned by the worker.
	TimedOut bool
}

// WorkerEnv is the curated environment passed to every spawned worker.
// Typed on purpose: a string-keyed map invites silent secret leakage.
type WorkerEnv struct {
	Port          int
	FunctionID    string
	InstanceID    string
	OwnerID       string
	MemoryLimitMB int
	TimeoutMs     int

	// Closed set of public configuration keys.
	NetworkID        string
	PublicGatewayURL string
	KeyServiceURL    string
}

// FunctionMetrics is a point-in-time view of a function's performance.
type FunctionMetrics struct {
	Invocations int64
	Errors      int64
	P50Ms       float64
	P95Ms       float64
	P99Ms       float64
	RPS         float64 // 1-minute sliding window
	Instances   int
}
