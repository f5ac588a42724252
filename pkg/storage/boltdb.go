package storage

import (
	"encoding/json"
	"path/filepath"

	"github.com/gravitational/trace"
	bolt "go.etcd.io/bbolt"

	"github.com/dwsnet/roost/pkg/types"
)

var (
	// Bucket names
	bucketFunctions = []byte("functions")
	bucketDatabases = []byte("databases")
	bucketBackups   = []byte("backups")
	bucketSchedules = []byte("schedules")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "roost.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, trace.Wrap(err, "opening journal database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketFunctions,
			bucketDatabases,
			bucketBackups,
			bucketSchedules,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, id string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return trace.Wrap(err)
		}
		return tx.Bucket(bucket).Put([]byte(id), data)
	})
}

func (s *BoltStore) get(bucket []byte, id string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(id))
		if data == nil {
			return trace.NotFound("%s: %q not found", bucket, id)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) delete(bucket []byte, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(id))
	})
}

// Function operations
func (s *BoltStore) PutFunction(fn *types.Function) error {
	return s.put(bucketFunctions, fn.ID, fn)
}

func (s *BoltStore) GetFunction(id string) (*types.Function, error) {
	var fn types.Function
	if err := s.get(bucketFunctions, id, &fn); err != nil {
		return nil, err
	}
	return &fn, nil
}

func (s *BoltStore) ListFunctions() ([]*types.Function, error) {
	var fns []*types.Function
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFunctions).ForEach(func(k, v []byte) error {
			var fn types.Function
			if err := json.Unmarshal(v, &fn); err != nil {
				return trace.Wrap(err)
			}
			fns = append(fns, &fn)
			return nil
		})
	})
	return fns, err
}

func (s *BoltStore) DeleteFunction(id string) error {
	return s.delete(bucketFunctions, id)
}

// Database instance operations
func (s *BoltStore) PutDatabase(db *types.DatabaseInstance) error {
	return s.put(bucketDatabases, db.ID, db)
}

func (s *BoltStore) GetDatabase(id string) (*types.DatabaseInstance, error) {
	var db types.DatabaseInstance
	if err := s.get(bucketDatabases, id, &db); err != nil {
		return nil, err
	}
	return &db, nil
}

func (s *BoltStore) ListDatabases() ([]*types.DatabaseInstance, error) {
	var dbs []*types.DatabaseInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDatabases).ForEach(func(k, v []byte) error {
			var db types.DatabaseInstance
			if err := json.Unmarshal(v, &db); err != nil {
				return trace.Wrap(err)
			}
			dbs = append(dbs, &db)
			return nil
		})
	})
	return dbs, err
}

// Backup operations
func (s *BoltStore) PutBackup(b *types.Backup) error {
	return s.put(bucketBackups, b.ID, b)
}

func (s *BoltStore) GetBackup(id string) (*types.Backup, error) {
	var b types.Backup
	if err := s.get(bucketBackups, id, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *BoltStore) ListBackupsByInstance(instanceID string) ([]*types.Backup, error) {
	var backups []*types.Backup
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBackups).ForEach(func(k, v []byte) error {
			var b types.Backup
			if err := json.Unmarshal(v, &b); err != nil {
				return trace.Wrap(err)
			}
			if b.InstanceID == instanceID {
				backups = append(backups, &b)
			}
			return nil
		})
	})
	return backups, err
}

// Schedule operations
func (s *BoltStore) PutSchedule(sched *types.CronSchedule) error {
	return s.put(bucketSchedules, sched.ID, sched)
}

func (s *BoltStore) GetSchedule(id string) (*types.CronSchedule, error) {
	var sched types.CronSchedule
	if err := s.get(bucketSchedules, id, &sched); err != nil {
		return nil, err
	}
	return &sched, nil
}

func (s *BoltStore) ListSchedules() ([]*types.CronSchedule, error) {
	var scheds []*types.CronSchedule
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(k, v []byte) error {
			var sched types.CronSchedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return trace.Wrap(err)
			}
			scheds = append(scheds, &sched)
			return nil
		})
	})
	return scheds, err
}

func (s *BoltStore) DeleteSchedule(id string) error {
	return s.delete(bucketSchedules, id)
}
