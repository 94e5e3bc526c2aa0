package tabledb

import (
	"errors"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/maruel/secdb/internal/snapshot"
	"github.com/spf13/afero"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := OpenStore("test", filepath.Join(t.TempDir(), "test"+Ext), opts)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func reopen(t *testing.T, s *Store) *Store {
	t.Helper()
	s2, err := OpenStore(s.name, s.path, s.opts)
	if err != nil {
		t.Fatal(err)
	}
	return s2
}

type recordingObserver struct {
	mu        sync.Mutex
	flushes   int
	failures  int
	recovered []string
}

func (o *recordingObserver) Flushed(db string, size int, elapsed time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.flushes++
	if err != nil {
		o.failures++
	}
}

func (o *recordingObserver) Recovered(db string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recovered = append(o.recovered, db)
}

func TestStore(t *testing.T) {
	for _, codec := range snapshot.Codecs {
		for _, atomic := range []bool{false, true} {
			name := codec.String()
			if atomic {
				name += "_atomic"
			}
			t.Run(name, func(t *testing.T) {
				s := newTestStore(t, Options{Codec: codec, AtomicWrites: atomic})
				if err := s.CreateTable("users", []string{"id", "name"}); err != nil {
					t.Fatal(err)
				}
				if err := s.CreateTable("empty", []string{"x"}); err != nil {
					t.Fatal(err)
				}
				if err := s.Insert("users", Row{"1", "alice"}); err != nil {
					t.Fatal(err)
				}
				if err := s.Insert("users", Row{"2", "bob"}); err != nil {
					t.Fatal(err)
				}

				s2 := reopen(t, s)
				if got := s2.ListTables(); !reflect.DeepEqual(got, []string{"users", "empty"}) {
					t.Errorf("ListTables() = %v", got)
				}
				if got := s2.GetColumns("users"); !reflect.DeepEqual(got, []string{"id", "name"}) {
					t.Errorf("GetColumns() = %v", got)
				}
				want := []Row{{"1", "alice"}, {"2", "bob"}}
				if got := s2.GetRows("users"); !reflect.DeepEqual(got, want) {
					t.Errorf("GetRows() = %v, want %v", got, want)
				}
				if got := s2.GetRows("empty"); len(got) != 0 {
					t.Errorf("GetRows(empty) = %v", got)
				}
				if atomic {
					if _, err := s.opts.Fs.Stat(s.path + ".tmp"); err == nil {
						t.Error("temporary file left behind")
					}
				}
			})
		}
	}
}

func TestStore_Absent(t *testing.T) {
	s := newTestStore(t, Options{})
	if got := s.GetColumns("nope"); got == nil || len(got) != 0 {
		t.Errorf("GetColumns() = %#v, want empty", got)
	}
	if got := s.GetRows("nope"); got == nil || len(got) != 0 {
		t.Errorf("GetRows() = %#v, want empty", got)
	}
	if err := s.Insert("nope", Row{"1"}); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("Insert() = %v, want ErrUnknownTable", err)
	}
	if ok, err := s.DeleteRowByID("nope", "1"); ok || err != nil {
		t.Errorf("DeleteRowByID() = %v, %v", ok, err)
	}
	if ok, err := s.DeleteRowByIndex("nope", 0); ok || err != nil {
		t.Errorf("DeleteRowByIndex() = %v, %v", ok, err)
	}
	if err := s.ResetTable("nope"); err != nil {
		t.Errorf("ResetTable() = %v", err)
	}
	if err := s.DeleteTable("nope"); err != nil {
		t.Errorf("DeleteTable() = %v", err)
	}
	if _, err := s.FindRows("nope", "id", "1"); !errors.Is(err, ErrUnknownTable) {
		t.Errorf("FindRows() = %v, want ErrUnknownTable", err)
	}
}

func TestStore_CreateTableInvalid(t *testing.T) {
	s := newTestStore(t, Options{})
	tests := []struct {
		name    string
		table   string
		columns []string
	}{
		{"empty_name", "", []string{"id"}},
		{"no_columns", "t", nil},
		{"empty_column", "t", []string{"id", ""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := s.CreateTable(tc.table, tc.columns); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("got %v, want ErrInvalidInput", err)
			}
		})
	}
	if got := s.ListTables(); len(got) != 0 {
		t.Errorf("ListTables() = %v", got)
	}
}

func TestStore_CreateTableIsNoop(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := s.CreateTable("t", []string{"a", "b"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("t", Row{"1", "2"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTable("t", []string{"c"}); err != nil {
		t.Fatal(err)
	}
	s2 := reopen(t, s)
	if got := s2.GetColumns("t"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("GetColumns() = %v", got)
	}
	if got := s2.GetRows("t"); !reflect.DeepEqual(got, []Row{{"1", "2"}}) {
		t.Errorf("GetRows() = %v", got)
	}
}

func TestStore_DeleteRowByID(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := s.CreateTable("t", []string{"id", "v"}); err != nil {
		t.Fatal(err)
	}
	for _, r := range []Row{{"a", "x"}, {"a", "y"}, {"b", "z"}} {
		if err := s.Insert("t", r); err != nil {
			t.Fatal(err)
		}
	}
	ok, err := s.DeleteRowByID("t", "a")
	if !ok || err != nil {
		t.Fatalf("DeleteRowByID() = %v, %v", ok, err)
	}
	want := []Row{{"a", "y"}, {"b", "z"}}
	if got := reopen(t, s).GetRows("t"); !reflect.DeepEqual(got, want) {
		t.Errorf("GetRows() = %v, want %v", got, want)
	}
	if ok, err := s.DeleteRowByID("t", "missing"); ok || err != nil {
		t.Errorf("DeleteRowByID(missing) = %v, %v", ok, err)
	}
}

func TestStore_DeleteRowByIndex(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := s.CreateTable("t", []string{"id"}); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := s.Insert("t", Row{strconv.Itoa(i)}); err != nil {
			t.Fatal(err)
		}
	}
	for _, idx := range []int{-1, 3, 100} {
		if ok, err := s.DeleteRowByIndex("t", idx); ok || err != nil {
			t.Errorf("DeleteRowByIndex(%d) = %v, %v", idx, ok, err)
		}
	}
	if ok, err := s.DeleteRowByIndex("t", 1); !ok || err != nil {
		t.Fatalf("DeleteRowByIndex(1) = %v, %v", ok, err)
	}
	if got := reopen(t, s).GetRows("t"); !reflect.DeepEqual(got, []Row{{"0"}, {"2"}}) {
		t.Errorf("GetRows() = %v", got)
	}
}

func TestStore_ResetAndDeleteTable(t *testing.T) {
	s := newTestStore(t, Options{})
	for _, name := range []string{"a", "b", "c"} {
		if err := s.CreateTable(name, []string{"id"}); err != nil {
			t.Fatal(err)
		}
		if err := s.Insert(name, Row{name}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.ResetTable("a"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteTable("b"); err != nil {
		t.Fatal(err)
	}
	s2 := reopen(t, s)
	if got := s2.ListTables(); !reflect.DeepEqual(got, []string{"a", "c"}) {
		t.Errorf("ListTables() = %v", got)
	}
	if got := s2.GetColumns("a"); !reflect.DeepEqual(got, []string{"id"}) {
		t.Errorf("GetColumns(a) = %v", got)
	}
	if got := s2.GetRows("a"); len(got) != 0 {
		t.Errorf("GetRows(a) = %v", got)
	}
	if got := s2.GetRows("c"); !reflect.DeepEqual(got, []Row{{"c"}}) {
		t.Errorf("GetRows(c) = %v", got)
	}
}

func TestStore_ShortRows(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := s.CreateTable("t", []string{"id", "name", "email"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("t", Row{"1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("t", Row{"2", "bob", "b@example.com", "extra"}); err != nil {
		t.Fatal(err)
	}
	if got := s.GetRows("t"); !reflect.DeepEqual(got, []Row{{"1"}, {"2", "bob", "b@example.com", "extra"}}) {
		t.Errorf("GetRows() = %v", got)
	}
	want := []Row{{"1", "", ""}, {"2", "bob", "b@example.com", "extra"}}
	if got := s.GetRowsPadded("t"); !reflect.DeepEqual(got, want) {
		t.Errorf("GetRowsPadded() = %v, want %v", got, want)
	}
	rows, err := s.FindRows("t", "email", "")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rows, []Row{{"1", "", ""}}) {
		t.Errorf("FindRows() = %v", rows)
	}
}

func TestStore_FindRowsAndExists(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := s.CreateTable("t", []string{"id", "color"}); err != nil {
		t.Fatal(err)
	}
	for _, r := range []Row{{"1", "red"}, {"2", "blue"}, {"3", "red"}} {
		if err := s.Insert("t", r); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := s.FindRows("t", "color", "red")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(rows, []Row{{"1", "red"}, {"3", "red"}}) {
		t.Errorf("FindRows() = %v", rows)
	}
	if ok, err := s.Exists("t", "id", "2"); !ok || err != nil {
		t.Errorf("Exists(2) = %v, %v", ok, err)
	}
	if ok, err := s.Exists("t", "id", "9"); ok || err != nil {
		t.Errorf("Exists(9) = %v, %v", ok, err)
	}
	if _, err := s.Exists("t", "size", "1"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Exists(unknown column) = %v", err)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := s.CreateTable("t", []string{"id"}); err != nil {
		t.Fatal(err)
	}
	r := Row{"1"}
	if err := s.Insert("t", r); err != nil {
		t.Fatal(err)
	}
	r[0] = "mutated"
	rows := s.GetRows("t")
	rows[0][0] = "mutated"
	s.GetColumns("t")[0] = "mutated"
	s.ListTables()[0] = "mutated"
	if got := s.GetRows("t"); !reflect.DeepEqual(got, []Row{{"1"}}) {
		t.Errorf("GetRows() = %v", got)
	}
	if got := s.GetColumns("t"); !reflect.DeepEqual(got, []string{"id"}) {
		t.Errorf("GetColumns() = %v", got)
	}
	if got := s.ListTables(); !reflect.DeepEqual(got, []string{"t"}) {
		t.Errorf("ListTables() = %v", got)
	}
}

func TestStore_ConcurrentInserts(t *testing.T) {
	s := newTestStore(t, Options{AtomicWrites: true})
	if err := s.CreateTable("t", []string{"id"}); err != nil {
		t.Fatal(err)
	}
	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Go(func() {
			errs <- s.Insert("t", Row{strconv.Itoa(i)})
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	rows := reopen(t, s).GetRows("t")
	if len(rows) != n {
		t.Fatalf("got %d rows, want %d", len(rows), n)
	}
	seen := map[string]bool{}
	for _, r := range rows {
		if seen[r[0]] {
			t.Errorf("duplicate row %q", r[0])
		}
		seen[r[0]] = true
	}
}

func TestStore_Corrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	obs := &recordingObserver{}
	opts := Options{Fs: fs, Codec: snapshot.CodecZstd, Observer: obs}
	s, err := OpenStore("db", "/db"+Ext, opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTable("t", []string{"id"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("t", Row{"1"}); err != nil {
		t.Fatal(err)
	}
	b, err := afero.ReadFile(fs, "/db"+Ext)
	if err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/db"+Ext, b[:len(b)/2], 0o644); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenStore("db", "/db"+Ext, opts)
	if err != nil {
		t.Fatalf("corrupt database must not fail to open: %v", err)
	}
	if got := s2.ListTables(); len(got) != 0 {
		t.Errorf("ListTables() = %v, want none", got)
	}
	if !reflect.DeepEqual(obs.recovered, []string{"db"}) {
		t.Errorf("recovered = %v", obs.recovered)
	}
	kept, err := afero.ReadFile(fs, "/db"+Ext+".corrupt")
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != len(b)/2 {
		t.Errorf("kept %d bytes, want %d", len(kept), len(b)/2)
	}
	// The recovered store is usable.
	if err := s2.CreateTable("u", []string{"id"}); err != nil {
		t.Fatal(err)
	}
}

func TestStore_EmptyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/db"+Ext, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := OpenStore("db", "/db"+Ext, Options{Fs: fs})
	if err != nil {
		t.Fatal(err)
	}
	if got := s.ListTables(); len(got) != 0 {
		t.Errorf("ListTables() = %v", got)
	}
}

func TestStore_FlushFailureRollsBack(t *testing.T) {
	base := afero.NewMemMapFs()
	s, err := OpenStore("db", "/db"+Ext, Options{Fs: base})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTable("t", []string{"id"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert("t", Row{"1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateTable("u", []string{"id"}); err != nil {
		t.Fatal(err)
	}

	obs := &recordingObserver{}
	for _, atomic := range []bool{false, true} {
		ro, err := OpenStore("db", "/db"+Ext, Options{Fs: afero.NewReadOnlyFs(base), AtomicWrites: atomic, Observer: obs})
		if err != nil {
			t.Fatal(err)
		}
		if err := ro.Insert("t", Row{"2"}); err == nil {
			t.Error("Insert() succeeded on a read-only filesystem")
		}
		if err := ro.CreateTable("v", []string{"id"}); err == nil {
			t.Error("CreateTable() succeeded on a read-only filesystem")
		}
		if ok, err := ro.DeleteRowByID("t", "1"); ok || err == nil {
			t.Errorf("DeleteRowByID() = %v, %v", ok, err)
		}
		if ok, err := ro.DeleteRowByIndex("t", 0); ok || err == nil {
			t.Errorf("DeleteRowByIndex() = %v, %v", ok, err)
		}
		if err := ro.ResetTable("t"); err == nil {
			t.Error("ResetTable() succeeded on a read-only filesystem")
		}
		if err := ro.DeleteTable("t"); err == nil {
			t.Error("DeleteTable() succeeded on a read-only filesystem")
		}
		if got := ro.ListTables(); !reflect.DeepEqual(got, []string{"t", "u"}) {
			t.Errorf("ListTables() = %v", got)
		}
		if got := ro.GetRows("t"); !reflect.DeepEqual(got, []Row{{"1"}}) {
			t.Errorf("GetRows() = %v", got)
		}
	}
	if obs.failures != 12 {
		t.Errorf("observed %d failed flushes, want 12", obs.failures)
	}
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t, Options{})
	if err := s.CreateTable("t", []string{"id"}); err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if err := s.Insert("t", Row{strconv.Itoa(i)}); err != nil {
			t.Fatal(err)
		}
	}
	st := s.Stats()
	if st.Tables != 1 || st.Rows != 3 {
		t.Errorf("Stats() = %+v", st)
	}
	if st.LastSize == 0 || st.LastFlush.IsZero() {
		t.Errorf("Stats() = %+v, want last flush info", st)
	}
}

func TestRow(t *testing.T) {
	r := Row{"a", "b"}
	if r.Cell(1) != "b" || r.Cell(2) != "" || r.Cell(-1) != "" {
		t.Error("Cell() out of range must be empty")
	}
	if got := r.Pad(4); !reflect.DeepEqual(got, Row{"a", "b", "", ""}) {
		t.Errorf("Pad(4) = %v", got)
	}
	if got := r.Pad(1); !reflect.DeepEqual(got, Row{"a", "b"}) {
		t.Errorf("Pad(1) = %v", got)
	}
	var nilRow Row
	if got := nilRow.Clone(); got == nil {
		t.Error("Clone() of nil must be empty, not nil")
	}
}
