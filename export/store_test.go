/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package export

import (
	"testing"

	"github.com/comoproject/como/module"
)

// fakeWriter is a no-op StreamWriter: Reserve hands back a scratch buffer of
// the requested size, Commit does nothing.
type fakeWriter struct{}

func (w *fakeWriter) Reserve(size int) ([]byte, error) { return make([]byte, size), nil }
func (w *fakeWriter) Commit(n int) error               { return nil }

func TestStoreOneFitsFirstTry(t *testing.T) {
	w := &fakeWriter{}
	calls := 0
	store := func(rec *module.Record, b []byte, cfg any) (int, error) {
		calls++
		return copy(b, "hi"), nil
	}
	n, err := storeOne(store, &module.Record{}, nil, w)
	if err != nil {
		t.Fatalf("storeOne: %v", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if calls != 1 {
		t.Fatalf("store called %d times, want 1", calls)
	}
}

func TestStoreOneRetriesOnGrow(t *testing.T) {
	w := &fakeWriter{}
	calls := 0
	store := func(rec *module.Record, b []byte, cfg any) (int, error) {
		calls++
		if len(b) < 1000 {
			return 1000, nil // tells storeOne it needs more room
		}
		return copy(b, "fits now"), nil
	}
	n, err := storeOne(store, &module.Record{}, nil, w)
	if err != nil {
		t.Fatalf("storeOne: %v", err)
	}
	if n != len("fits now") {
		t.Fatalf("n = %d, want %d", n, len("fits now"))
	}
	if calls != 2 {
		t.Fatalf("store called %d times, want 2", calls)
	}
}

func TestStoreOneGivesUpAfterRepeatedGrowth(t *testing.T) {
	w := &fakeWriter{}
	store := func(rec *module.Record, b []byte, cfg any) (int, error) {
		return len(b) + 1, nil // always asks for one more byte than offered
	}
	if _, err := storeOne(store, &module.Record{}, nil, w); err == nil {
		t.Fatal("expected an error once store() keeps demanding growth")
	}
}
