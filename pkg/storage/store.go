package storage

import (
	"github.com/dwsnet/roost/pkg/types"
)

// Store is the persistence collaborator: it mirrors the entity maps the core
// keeps in memory. The core stays authoritative and journals mutations
// through this interface; live state (instances, pool connections) is
// volatile and rebuilt on restart.
type Store interface {
	// Functions
	PutFunction(fn *types.Function) error
	GetFunction(id string) (*types.Function, error)
	ListFunctions() ([]*types.Function, error)
	DeleteFunction(id string) error

	// Database instances
	PutDatabase(db *types.DatabaseInstance) error
	GetDatabase(id string) (*types.DatabaseInstance, error)
	ListDatabases() ([]*types.DatabaseInstance, error)

	// Backups
	PutBackup(b *types.Backup) error
	GetBackup(id string) (*types.Backup, error)
	ListBackupsByInstance(instanceID string) ([]*types.Backup, error)

	// Cron schedules
	PutSchedule(s *types.CronSchedule) error
	GetSchedule(id string) (*types.CronSchedule, error)
	ListSchedules() ([]*types.CronSchedule, error)
	DeleteSchedule(id string) error

	// Utility
	Close() error
}
