package history

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRepo(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, Author{Name: "secdb", Email: "secdb@localhost"})
	if err != nil {
		t.Fatal(err)
	}
	ctx := t.Context()

	if err := os.WriteFile(filepath.Join(dir, "shop.secdb"), []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "shop.secdb.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	ok, err := r.Commit(ctx, Author{Name: "admin"}, "POST /createdb")
	if err != nil || !ok {
		t.Fatalf("Commit() = %v, %v", ok, err)
	}
	// Nothing changed.
	if ok, err := r.Commit(ctx, Author{}, "noop"); err != nil || ok {
		t.Fatalf("Commit() = %v, %v", ok, err)
	}

	if err := os.Remove(filepath.Join(dir, "shop.secdb")); err != nil {
		t.Fatal(err)
	}
	if ok, err := r.Commit(ctx, Author{}, "POST /deletedb"); err != nil || !ok {
		t.Fatalf("Commit() after removal = %v, %v", ok, err)
	}

	log, err := r.Log(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(log) != 2 {
		t.Fatalf("got %d commits", len(log))
	}
	if log[0].Message != "POST /deletedb" || log[0].Author != "secdb" {
		t.Errorf("log[0] = %+v", log[0])
	}
	if log[1].Author != "admin" {
		t.Errorf("log[1] = %+v", log[1])
	}

	// Reopening an existing repository works.
	r2, err := Open(dir, Author{Name: "secdb", Email: "secdb@localhost"})
	if err != nil {
		t.Fatal(err)
	}
	if log, err := r2.Log(1); err != nil || len(log) != 1 {
		t.Errorf("Log() = %v, %v", log, err)
	}
}

func TestRepo_EmptyLog(t *testing.T) {
	r, err := Open(t.TempDir(), Author{Name: "secdb", Email: "secdb@localhost"})
	if err != nil {
		t.Fatal(err)
	}
	log, err := r.Log(5)
	if err != nil || len(log) != 0 {
		t.Errorf("Log() = %v, %v", log, err)
	}
}
