package storage

import (
	"errors"
	"testing"
)

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	if _, err := db.Get([]byte("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemDBRoundTrip(t *testing.T) {
	db := NewMemDB()
	defer db.Close()

	key := []byte("k")
	if err := db.Put(key, []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "one" {
		t.Fatalf("unexpected value: %q", got)
	}

	// Mutating the returned slice must not reach the stored copy.
	got[0] = 'X'
	again, err := db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(again) != "one" {
		t.Fatalf("stored value mutated: %q", again)
	}

	if err := db.Put(key, []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err = db.Get(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "two" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}

func TestLevelDBRoundTrip(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()

	if _, err := db.Get([]byte("absent")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("unexpected value: %q", got)
	}
}
