package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// FileSnapshotter keeps the snapshot in a single JSON file, replaced with a
// write to a temporary file followed by a rename.
type FileSnapshotter struct {
	path string
}

var _ Snapshotter = (*FileSnapshotter)(nil)

// NewFileSnapshotter returns a snapshotter writing to path.
func NewFileSnapshotter(path string) (*FileSnapshotter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %v", err)
	}
	return &FileSnapshotter{path: path}, nil
}

// Load implements Snapshotter.
func (fs *FileSnapshotter) Load() (*Snapshot, error) {
	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("reading state file: %v", err)
	}
	return decode(data)
}

// Save implements Snapshotter.
func (fs *FileSnapshotter) Save(ss *Snapshot) error {
	data, err := json.MarshalIndent(ss, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %v", err)
	}
	if err := renameio.WriteFile(fs.path, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %v", err)
	}
	return nil
}

// Close implements Snapshotter.
func (fs *FileSnapshotter) Close() error {
	return nil
}

// snapshotKey is the single leveldb key holding the snapshot.
var snapshotKey = []byte("/auctiond/state")

// LevelDBSnapshotter keeps the snapshot under a single leveldb key. Each
// save is one synced write, which leveldb applies atomically.
type LevelDBSnapshotter struct {
	db *leveldb.DB
}

var _ Snapshotter = (*LevelDBSnapshotter)(nil)

// NewLevelDBSnapshotter opens or creates a database at path. An empty path
// uses in-memory storage.
func NewLevelDBSnapshotter(path string) (*LevelDBSnapshotter, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(storage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}
	return &LevelDBSnapshotter{db: db}, nil
}

// NewLevelDBSnapshotterFromStorage opens a database on an existing leveldb storage.
func NewLevelDBSnapshotterFromStorage(stor storage.Storage) (*LevelDBSnapshotter, error) {
	db, err := leveldb.Open(stor, nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &LevelDBSnapshotter{db: db}, nil
}

// Load implements Snapshotter.
func (ls *LevelDBSnapshotter) Load() (*Snapshot, error) {
	data, err := ls.db.Get(snapshotKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("getting snapshot: %v", err)
	}
	return decode(data)
}

// Save implements Snapshotter.
func (ls *LevelDBSnapshotter) Save(ss *Snapshot) error {
	data, err := json.Marshal(ss)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %v", err)
	}
	if err := ls.db.Put(snapshotKey, data, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("putting snapshot: %v", err)
	}
	return nil
}

// Close implements Snapshotter.
func (ls *LevelDBSnapshotter) Close() error {
	return ls.db.Close()
}

func decode(data []byte) (*Snapshot, error) {
	var ss Snapshot
	if err := json.Unmarshal(data, &ss); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %v", err)
	}
	return &ss, nil
}
