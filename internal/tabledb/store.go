package tabledb

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/maruel/secdb/internal/snapshot"
	"github.com/spf13/afero"
)

// Observer is notified of store persistence events.
type Observer interface {
	// Flushed is called after every flush attempt.
	Flushed(db string, size int, elapsed time.Duration, err error)
	// Recovered is called when a corrupt snapshot was replaced by an empty
	// database on load.
	Recovered(db string, err error)
}

type nopObserver struct{}

func (nopObserver) Flushed(string, int, time.Duration, error) {}
func (nopObserver) Recovered(string, error)                   {}

// Options configures how stores persist their snapshots.
type Options struct {
	// Fs is the filesystem holding the snapshot files. Defaults to the OS
	// filesystem.
	Fs afero.Fs
	// Codec compresses new snapshots. Existing files are read with whatever
	// codec they declare.
	Codec snapshot.Codec
	// AtomicWrites writes "<file>.tmp" then renames it over the snapshot.
	// When false the snapshot is overwritten in place.
	AtomicWrites bool
	// Observer receives persistence events. Optional.
	Observer Observer
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Fs == nil {
		out.Fs = afero.NewOsFs()
	}
	if out.Observer == nil {
		out.Observer = nopObserver{}
	}
	return out
}

// Stats summarizes a store for listings and metrics.
type Stats struct {
	Tables    int
	Rows      int
	LastSize  int
	LastFlush time.Time
}

type table struct {
	columns []string
	rows    []Row
}

// Store is one database held in memory. All methods are safe for concurrent
// use.
type Store struct {
	name string
	path string
	opts Options

	mu      sync.RWMutex
	order   []string
	tables  map[string]*table
	dropped bool
	stats   Stats
}

// OpenStore loads the database stored at path.
//
// A missing or empty file yields an empty database. A corrupt file is logged
// and yields an empty database too.
func OpenStore(name, path string, opts Options) (*Store, error) {
	s := &Store{
		name:   name,
		path:   path,
		opts:   opts.withDefaults(),
		tables: map[string]*table{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Name returns the database name.
func (s *Store) Name() string {
	return s.name
}

func (s *Store) load() error {
	b, err := afero.ReadFile(s.opts.Fs, s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read database %q: %w", s.name, err)
	}
	if len(b) == 0 {
		return nil
	}
	st, err := snapshot.Decode(b)
	if err != nil {
		if !errors.Is(err, snapshot.ErrCorrupt) {
			return fmt.Errorf("failed to decode database %q: %w", s.name, err)
		}
		slog.Error("Corrupt database, starting empty", "db", s.name, "path", s.path, "size", len(b), "err", err)
		if err2 := afero.WriteFile(s.opts.Fs, s.path+".corrupt", b, 0o600); err2 != nil {
			slog.Warn("Failed to keep a copy of the corrupt database", "db", s.name, "err", err2)
		}
		s.opts.Observer.Recovered(s.name, err)
		return nil
	}
	for _, t := range st.Tables {
		rows := make([]Row, len(t.Rows))
		for i, r := range t.Rows {
			rows[i] = Row(r)
		}
		s.order = append(s.order, t.Name)
		s.tables[t.Name] = &table{columns: t.Columns, rows: rows}
	}
	s.stats.LastSize = len(b)
	return nil
}

// ListTables returns the table names in creation order.
func (s *Store) ListTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// GetColumns returns the columns of the table, or an empty slice if it does
// not exist.
func (s *Store) GetColumns(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tables[name]
	if t == nil {
		return []string{}
	}
	return slices.Clone(t.columns)
}

// GetRows returns copies of the rows of the table as stored, or an empty
// slice if it does not exist.
func (s *Store) GetRows(name string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tables[name]
	if t == nil {
		return []Row{}
	}
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Clone()
	}
	return out
}

// GetRowsPadded is like GetRows but pads every row with empty cells up to
// the column count.
func (s *Store) GetRowsPadded(name string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := s.tables[name]
	if t == nil {
		return []Row{}
	}
	out := make([]Row, len(t.rows))
	for i, r := range t.rows {
		out[i] = r.Pad(len(t.columns))
	}
	return out
}

// FindRows returns the rows whose cell in column equals value. Missing cells
// compare as "".
func (s *Store) FindRows(name, column, value string) ([]Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, col, err := s.lookupColumn(name, column)
	if err != nil {
		return nil, err
	}
	out := []Row{}
	for _, r := range t.rows {
		if r.Cell(col) == value {
			out = append(out, r.Pad(len(t.columns)))
		}
	}
	return out, nil
}

// Exists reports whether any row has value in column.
func (s *Store) Exists(name, column, value string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, col, err := s.lookupColumn(name, column)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(t.rows, func(r Row) bool { return r.Cell(col) == value }), nil
}

func (s *Store) lookupColumn(name, column string) (*table, int, error) {
	t := s.tables[name]
	if t == nil {
		return nil, 0, fmt.Errorf("table %q: %w", name, ErrUnknownTable)
	}
	col := slices.Index(t.columns, column)
	if col < 0 {
		return nil, 0, fmt.Errorf("table %q has no column %q: %w", name, column, ErrInvalidInput)
	}
	return t, col, nil
}

// CreateTable creates a table with the given columns.
//
// It is a no-op when the table already exists, even if columns differ.
func (s *Store) CreateTable(name string, columns []string) error {
	if name == "" {
		return fmt.Errorf("table name is empty: %w", ErrInvalidInput)
	}
	if len(columns) == 0 {
		return fmt.Errorf("table %q has no columns: %w", name, ErrInvalidInput)
	}
	if slices.Contains(columns, "") {
		return fmt.Errorf("table %q has an empty column name: %w", name, ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; ok {
		return nil
	}
	s.order = append(s.order, name)
	s.tables[name] = &table{columns: slices.Clone(columns), rows: []Row{}}
	return s.flushOrUndo(func() {
		s.order = s.order[:len(s.order)-1]
		delete(s.tables, name)
	})
}

// Insert appends row to the table. The row is stored as is, without checking
// it against the column count.
func (s *Store) Insert(name string, row Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	if t == nil {
		return fmt.Errorf("table %q: %w", name, ErrUnknownTable)
	}
	t.rows = append(t.rows, row.Clone())
	return s.flushOrUndo(func() {
		t.rows = t.rows[:len(t.rows)-1]
	})
}

// DeleteRowByID removes the first row whose cell 0 equals id.
//
// It returns false without error when the table does not exist or no row
// matches.
func (s *Store) DeleteRowByID(name, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	if t == nil {
		return false, nil
	}
	i := slices.IndexFunc(t.rows, func(r Row) bool { return r.Cell(0) == id })
	if i < 0 {
		return false, nil
	}
	return s.deleteRowLocked(t, i)
}

// DeleteRowByIndex removes the row at index.
//
// It returns false without error when the table does not exist or index is
// out of range.
func (s *Store) DeleteRowByIndex(name string, index int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	if t == nil || index < 0 || index >= len(t.rows) {
		return false, nil
	}
	return s.deleteRowLocked(t, index)
}

func (s *Store) deleteRowLocked(t *table, i int) (bool, error) {
	old := t.rows
	t.rows = slices.Delete(slices.Clone(old), i, i+1)
	if err := s.flushOrUndo(func() { t.rows = old }); err != nil {
		return false, err
	}
	return true, nil
}

// ResetTable removes every row of the table and keeps its columns.
//
// The database is flushed even when the table does not exist.
func (s *Store) ResetTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	if t == nil {
		return s.flushOrUndo(func() {})
	}
	old := t.rows
	t.rows = []Row{}
	return s.flushOrUndo(func() { t.rows = old })
}

// DeleteTable removes the table with its rows.
//
// The database is flushed even when the table does not exist.
func (s *Store) DeleteTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tables[name]
	if t == nil {
		return s.flushOrUndo(func() {})
	}
	oldOrder := s.order
	s.order = slices.DeleteFunc(slices.Clone(oldOrder), func(n string) bool { return n == name })
	delete(s.tables, name)
	return s.flushOrUndo(func() {
		s.order = oldOrder
		s.tables[name] = t
	})
}

// Stats returns counters about the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	st.Tables = len(s.order)
	for _, t := range s.tables {
		st.Rows += len(t.rows)
	}
	return st
}

// drop marks the store as deleted. Later mutations through an outstanding
// handle fail with ErrNotFound and never touch the file.
func (s *Store) drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped = true
}

// flushOrUndo persists the state and calls undo when that fails. The write
// lock must be held.
func (s *Store) flushOrUndo(undo func()) error {
	if err := s.flushLocked(); err != nil {
		undo()
		return err
	}
	return nil
}

func (s *Store) flushLocked() error {
	if s.dropped {
		return fmt.Errorf("database %q was deleted: %w", s.name, ErrNotFound)
	}
	start := time.Now()
	b, err := snapshot.Encode(s.stateLocked(), s.opts.Codec)
	if err == nil {
		err = s.write(b)
	}
	elapsed := time.Since(start)
	s.opts.Observer.Flushed(s.name, len(b), elapsed, err)
	if err != nil {
		return fmt.Errorf("failed to flush database %q: %w", s.name, err)
	}
	s.stats.LastSize = len(b)
	s.stats.LastFlush = start
	slog.Debug("Flushed database", "db", s.name, "size", len(b), "dur", elapsed)
	return nil
}

// stateLocked returns a view of the state sharing the store's slices. It
// must not be retained past the lock.
func (s *Store) stateLocked() *snapshot.State {
	st := &snapshot.State{Tables: make([]snapshot.Table, 0, len(s.order))}
	for _, name := range s.order {
		t := s.tables[name]
		rows := make([][]string, len(t.rows))
		for i, r := range t.rows {
			rows[i] = r
		}
		st.Tables = append(st.Tables, snapshot.Table{Name: name, Columns: t.columns, Rows: rows})
	}
	return st
}

func (s *Store) write(b []byte) error {
	target := s.path
	if s.opts.AtomicWrites {
		target = s.path + ".tmp"
	}
	f, err := s.opts.Fs.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(b)
	if err == nil {
		err = f.Sync()
	}
	if err2 := f.Close(); err == nil {
		err = err2
	}
	if err != nil {
		if s.opts.AtomicWrites {
			_ = s.opts.Fs.Remove(target)
		}
		return err
	}
	if s.opts.AtomicWrites {
		if err := s.opts.Fs.Rename(target, s.path); err != nil {
			_ = s.opts.Fs.Remove(target)
			return err
		}
	}
	return nil
}
