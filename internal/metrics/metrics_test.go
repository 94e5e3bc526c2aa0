package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/maruel/secdb/internal/tabledb"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
)

func TestStoreObserver(t *testing.T) {
	ok := testutil.ToFloat64(FlushesTotal.WithLabelValues("ok"))
	failed := testutil.ToFloat64(FlushesTotal.WithLabelValues("error"))
	corrupt := testutil.ToFloat64(CorruptSnapshotsTotal)

	var o StoreObserver
	o.Flushed("db", 100, time.Millisecond, nil)
	o.Flushed("db", 0, time.Millisecond, errors.New("disk full"))
	o.Recovered("db", errors.New("bad"))

	if got := testutil.ToFloat64(FlushesTotal.WithLabelValues("ok")); got != ok+1 {
		t.Errorf("ok flushes = %v, want %v", got, ok+1)
	}
	if got := testutil.ToFloat64(FlushesTotal.WithLabelValues("error")); got != failed+1 {
		t.Errorf("failed flushes = %v, want %v", got, failed+1)
	}
	if got := testutil.ToFloat64(CorruptSnapshotsTotal); got != corrupt+1 {
		t.Errorf("corrupt = %v, want %v", got, corrupt+1)
	}
}

func TestRegistryCollector(t *testing.T) {
	r, err := tabledb.NewRegistry("/data", tabledb.Options{Fs: afero.NewMemMapFs(), Observer: StoreObserver{}})
	if err != nil {
		t.Fatal(err)
	}
	c := &RegistryCollector{Registry: r}
	if n := testutil.CollectAndCount(c); n != 0 {
		t.Errorf("got %d metrics with nothing loaded", n)
	}
	for _, name := range []string{"a", "b"} {
		s, err := r.CreateDatabase(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.CreateTable("t", []string{"id"}); err != nil {
			t.Fatal(err)
		}
	}
	if n := testutil.CollectAndCount(c); n != 6 {
		t.Errorf("got %d metrics, want 6", n)
	}
	if n := testutil.CollectAndCount(c, DatabaseTablesKey); n != 2 {
		t.Errorf("got %d table gauges, want 2", n)
	}
}

func TestNewRegistry(t *testing.T) {
	// Registering twice in distinct registries must not conflict.
	for range 2 {
		reg := NewRegistry(nil)
		if _, err := reg.Gather(); err != nil {
			t.Fatal(err)
		}
	}
}
