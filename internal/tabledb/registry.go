package tabledb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Ext is the file extension of database snapshots.
const Ext = ".secdb"

var nameRe = regexp.MustCompile(`^\w+$`)

// ValidName reports whether name is usable as a database name.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// DatabaseInfo describes a database file.
type DatabaseInfo struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Registry maps database names to their live Store and manages the database
// files in one directory.
type Registry struct {
	dir  string
	opts Options

	mu     sync.Mutex
	stores map[string]*Store
}

// NewRegistry returns a registry rooted at dir, creating it if needed.
func NewRegistry(dir string, opts Options) (*Registry, error) {
	opts = opts.withDefaults()
	if err := opts.Fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create databases directory: %w", err)
	}
	return &Registry{dir: dir, opts: opts, stores: map[string]*Store{}}, nil
}

// Dir returns the databases directory.
func (r *Registry) Dir() string {
	return r.dir
}

func (r *Registry) path(name string) string {
	return filepath.Join(r.dir, name+Ext)
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("database name %q must only contain letters, digits and underscores: %w", name, ErrInvalidInput)
	}
	return nil
}

// Open returns the live Store for name, loading it on first use.
func (r *Registry) Open(name string) (*Store, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.stores[name]; s != nil {
		return s, nil
	}
	if _, err := r.opts.Fs.Stat(r.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("database %q: %w", name, ErrNotFound)
		}
		return nil, err
	}
	s, err := OpenStore(name, r.path(name), r.opts)
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	return s, nil
}

// CreateDatabase creates an empty database file and returns its Store.
func (r *Registry) CreateDatabase(name string) (*Store, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stores[name] != nil {
		return nil, fmt.Errorf("database %q: %w", name, ErrAlreadyExists)
	}
	f, err := r.opts.Fs.OpenFile(r.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("database %q: %w", name, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("failed to create database %q: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to create database %q: %w", name, err)
	}
	s, err := OpenStore(name, r.path(name), r.opts)
	if err != nil {
		return nil, err
	}
	r.stores[name] = s
	return s, nil
}

// DeleteDatabase removes the database file and evicts its Store.
//
// Handles already obtained for the database fail subsequent mutations with
// ErrNotFound.
func (r *Registry) DeleteDatabase(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stores[name]
	if s != nil {
		s.drop()
		delete(r.stores, name)
	}
	err := r.opts.Fs.Remove(r.path(name))
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		if s == nil {
			return fmt.Errorf("database %q: %w", name, ErrNotFound)
		}
		err = nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete database %q: %w", name, err)
	}
	return nil
}

// ListDatabases enumerates the database files, sorted by name.
func (r *Registry) ListDatabases() ([]DatabaseInfo, error) {
	entries, err := afero.ReadDir(r.opts.Fs, r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}
	out := []DatabaseInfo{}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), Ext)
		if e.IsDir() || !ok || !ValidName(name) {
			continue
		}
		out = append(out, DatabaseInfo{Name: name, Size: e.Size(), Modified: e.ModTime()})
	}
	slices.SortFunc(out, func(a, b DatabaseInfo) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// Names returns the sorted database names.
func (r *Registry) Names() ([]string, error) {
	infos, err := r.ListDatabases()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(infos))
	for i, info := range infos {
		out[i] = info.Name
	}
	return out, nil
}

// Loaded returns the stores currently resident in memory, sorted by name.
func (r *Registry) Loaded() []*Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Store, 0, len(r.stores))
	for _, s := range r.stores {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Store) int { return strings.Compare(a.name, b.name) })
	return out
}

// Close evicts every resident store. Stores are flushed on every mutation so
// there is nothing left to write.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.stores)
	return nil
}
