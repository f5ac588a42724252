package storage

import (
	"sync"

	"github.com/gravitational/trace"

	"github.com/dwsnet/roost/pkg/types"
)

// MemoryStore is a volatile Store for tests and for running without a data
// directory.
type MemoryStore struct {
	mu        sync.RWMutex
	functions map[string]*types.Function
	databases map[string]*types.DatabaseInstance
	backups   map[string]*types.Backup
	schedules map[string]*types.CronSchedule
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		functions: make(map[string]*types.Function),
		databases: make(map[string]*types.DatabaseInstance),
		backups:   make(map[string]*types.Backup),
		schedules: make(map[string]*types.CronSchedule),
	}
}

func (s *MemoryStore) PutFunction(fn *types.Function) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *fn
	s.functions[fn.ID] = &cp
	return nil
}

func (s *MemoryStore) GetFunction(id string) (*types.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn, ok := s.functions[id]
	if !ok {
		return nil, trace.NotFound("function %q not found", id)
	}
	cp := *fn
	return &cp, nil
}

func (s *MemoryStore) ListFunctions() ([]*types.Function, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.Function, 0, len(s.functions))
	for _, fn := range s.functions {
		cp := *fn
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DeleteFunction(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.functions, id)
	return nil
}

func (s *MemoryStore) PutDatabase(db *types.DatabaseInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *db
	s.databases[db.ID] = &cp
	return nil
}

func (s *MemoryStore) GetDatabase(id string) (*types.DatabaseInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	db, ok := s.databases[id]
	if !ok {
		return nil, trace.NotFound("database %q not found", id)
	}
	cp := *db
	return &cp, nil
}

func (s *MemoryStore) ListDatabases() ([]*types.DatabaseInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.DatabaseInstance, 0, len(s.databases))
	for _, db := range s.databases {
		cp := *db
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) PutBackup(b *types.Backup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.backups[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBackup(id string) (*types.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.backups[id]
	if !ok {
		return nil, trace.NotFound("backup %q not found", id)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListBackupsByInstance(instanceID string) ([]*types.Backup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Backup
	for _, b := range s.backups {
		if b.InstanceID == instanceID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) PutSchedule(sched *types.CronSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sched
	s.schedules[sched.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSchedule(id string) (*types.CronSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, trace.NotFound("schedule %q not found", id)
	}
	cp := *sched
	return &cp, nil
}

func (s *MemoryStore) ListSchedules() ([]*types.CronSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*types.CronSchedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		cp := *sched
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DeleteSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
