package boltstore

import (
	"fmt"
	"log"
	"os"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/crystal-mush/mushscript/pkg/gamedb"
	"github.com/crystal-mush/mushscript/pkg/tree"
)

// Store wraps a bbolt database and an in-memory cache for ACID persistence.
// Reads are served from the cache; every write goes to the cache first and
// is then written through to bbolt.
type Store struct {
	bolt  *bbolt.DB
	cache *gamedb.Database
}

var _ gamedb.Store = (*Store)(nil)

// Open opens or creates a bbolt database file and ensures all buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketMeta, bucketEntities, bucketPlayers} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		meta := tx.Bucket(bucketMeta)
		if meta.Get(keyVersion) == nil {
			return meta.Put(keyVersion, intToKey(schemaVersion))
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create buckets: %w", err)
	}

	return &Store{
		bolt:  db,
		cache: gamedb.NewDatabase(),
	}, nil
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	if s.bolt != nil {
		return s.bolt.Close()
	}
	return nil
}

// DB returns the in-memory database cache.
func (s *Store) DB() *gamedb.Database {
	return s.cache
}

// Path returns the filesystem path of the underlying bbolt database.
func (s *Store) Path() string {
	if s.bolt != nil {
		return s.bolt.Path()
	}
	return ""
}

// Version returns the schema version recorded in the meta bucket.
func (s *Store) Version() int {
	v := 0
	s.bolt.View(func(tx *bbolt.Tx) error {
		v = keyToInt(tx.Bucket(bucketMeta).Get(keyVersion))
		return nil
	})
	return v
}

// --- gamedb.Store ---

func (s *Store) GetEntity(id string) (*gamedb.Entity, bool) { return s.cache.GetEntity(id) }

func (s *Store) ResolveProps(id string) (map[string]any, error) { return s.cache.ResolveProps(id) }

func (s *Store) FindScript(id, verb string) (tree.Node, bool) { return s.cache.FindScript(id, verb) }

func (s *Store) Contents(id string) []*gamedb.Entity { return s.cache.Contents(id) }

func (s *Store) FindByName(name string, kind gamedb.Kind) (*gamedb.Entity, bool) {
	return s.cache.FindByName(name, kind)
}

func (s *Store) ListEntities() []*gamedb.Entity { return s.cache.ListEntities() }

// Chain returns the ids of id and its prototypes, nearest first.
func (s *Store) Chain(id string) []string { return s.cache.Chain(id) }

func (s *Store) CreateEntity(e *gamedb.Entity) (string, error) {
	id, err := s.cache.CreateEntity(e)
	if err != nil {
		return "", err
	}
	if err := s.persist(id, ""); err != nil {
		s.cache.DeleteEntity(id)
		return "", err
	}
	return id, nil
}

func (s *Store) UpdateEntity(id string, p gamedb.Patch) error {
	old, ok := s.cache.GetEntity(id)
	if !ok {
		return fmt.Errorf("boltstore: update %s: %w", id, gamedb.ErrNotFound)
	}
	if err := s.cache.UpdateEntity(id, p); err != nil {
		return err
	}
	if err := s.persist(id, old.Name); err != nil {
		s.cache.Put(old)
		return err
	}
	return nil
}

func (s *Store) DeleteEntity(id string) error {
	old, ok := s.cache.GetEntity(id)
	if !ok {
		return fmt.Errorf("boltstore: delete %s: %w", id, gamedb.ErrNotFound)
	}
	err := s.bolt.Update(func(tx *bbolt.Tx) error {
		if old.Kind == gamedb.KindPlayer {
			if err := tx.Bucket(bucketPlayers).Delete(playerKey(old.Name)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketEntities).Delete(idKey(id))
	})
	if err != nil {
		return fmt.Errorf("boltstore: delete %s: %w", id, err)
	}
	return s.cache.DeleteEntity(id)
}

// persist writes the cached entity id to bbolt. oldName, when set, is the
// player name to drop from the name index.
func (s *Store) persist(id, oldName string) error {
	e, ok := s.cache.GetEntity(id)
	if !ok {
		return fmt.Errorf("boltstore: persist %s: %w", id, gamedb.ErrNotFound)
	}
	data, err := encodeEntity(e)
	if err != nil {
		return fmt.Errorf("boltstore: encode entity %s: %w", id, err)
	}
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketEntities).Put(idKey(id), data); err != nil {
			return err
		}
		return updatePlayerIndex(tx, e, oldName)
	})
}

func updatePlayerIndex(tx *bbolt.Tx, e *gamedb.Entity, oldName string) error {
	if e.Kind != gamedb.KindPlayer {
		return nil
	}
	b := tx.Bucket(bucketPlayers)
	if oldName != "" && oldName != e.Name {
		if err := b.Delete(playerKey(oldName)); err != nil {
			return err
		}
	}
	return b.Put(playerKey(e.Name), idKey(e.ID))
}

// PlayerID looks a player up by name in the persisted name index.
func (s *Store) PlayerID(name string) (string, bool) {
	var id string
	s.bolt.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketPlayers).Get(playerKey(name)); v != nil {
			id = string(v)
		}
		return nil
	})
	return id, id != ""
}

// ImportFromDatabase bulk-loads an in-memory Database into bbolt, batching
// 1000 entities per transaction, and adopts it as the cache.
func (s *Store) ImportFromDatabase(db *gamedb.Database) error {
	s.cache = db

	all := db.ListEntities()
	for i := 0; i < len(all); i += 1000 {
		end := i + 1000
		if end > len(all) {
			end = len(all)
		}
		if err := s.writeBatch(all[i:end]); err != nil {
			return fmt.Errorf("boltstore: import: %w", err)
		}
	}
	if err := s.markSaved(); err != nil {
		return fmt.Errorf("boltstore: import meta: %w", err)
	}
	log.Printf("boltstore: imported %d entities", len(all))
	return nil
}

// writeBatch writes a batch of entities in a single transaction.
func (s *Store) writeBatch(es []*gamedb.Entity) error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketEntities)
		for _, e := range es {
			data, err := encodeEntity(e)
			if err != nil {
				return fmt.Errorf("encode %s: %w", e.ID, err)
			}
			if err := b.Put(idKey(e.ID), data); err != nil {
				return err
			}
			if err := updatePlayerIndex(tx, e, ""); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) markSaved() error {
	return s.bolt.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keySaved, []byte(time.Now().UTC().Format(time.RFC3339)))
	})
}

// LoadAll reads the entire bbolt database into the in-memory cache.
func (s *Store) LoadAll() error {
	count := 0
	err := s.bolt.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEntities).ForEach(func(k, v []byte) error {
			e, err := decodeEntity(v)
			if err != nil {
				return fmt.Errorf("decode entity %q: %w", string(k), err)
			}
			s.cache.Put(e)
			count++
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("boltstore: load entities: %w", err)
	}

	log.Printf("boltstore: loaded %d entities from bolt (schema v%d)", count, s.Version())
	return nil
}

// Backup creates a hot snapshot of the bbolt database using tx.WriteTo().
func (s *Store) Backup(path string) error {
	return s.bolt.View(func(tx *bbolt.Tx) error {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("boltstore: create backup %s: %w", path, err)
		}
		defer f.Close()
		_, err = tx.WriteTo(f)
		if err != nil {
			return fmt.Errorf("boltstore: write backup: %w", err)
		}
		log.Printf("boltstore: backup written to %s", path)
		return nil
	})
}

// HasData returns true if the bbolt database contains any entities.
func (s *Store) HasData() bool {
	hasData := false
	s.bolt.View(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketEntities).Stats().KeyN > 0 {
			hasData = true
		}
		return nil
	})
	return hasData
}
