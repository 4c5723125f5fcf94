// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"os"
	"path/filepath"
	"testing"
)

// TestFileAccountStore_RoundTrip exercises add, get, list, upsert and
// remove against a store file on disk.
func TestFileAccountStore_RoundTrip(t *testing.T) {
	t.Parallel()
	store := NewFileAccountStore(filepath.Join(t.TempDir(), "accounts.yaml"))

	specs, err := store.List()
	if err != nil {
		t.Fatalf("List on missing file: %v", err)
	}
	if len(specs) != 0 {
		t.Fatalf("missing file should list empty, got %d", len(specs))
	}

	first := AccountSpec{ID: "100", AppID: "app100", Token: "t1", Enabled: true}
	second := AccountSpec{ID: "200", AppID: "app200", Token: "t2"}
	if err := store.Add(first); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	if err := store.Add(second); err != nil {
		t.Fatalf("Add second: %v", err)
	}

	got, ok, err := store.Get("100")
	if err != nil || !ok {
		t.Fatalf("Get(100) = %v, %v, %v", got, ok, err)
	}
	if got.AppID != "app100" || !got.Enabled {
		t.Errorf("Get(100) returned %+v", got)
	}
	if _, ok, _ := store.Get("300"); ok {
		t.Error("Get on unknown id should report not found")
	}

	first.Token = "rotated"
	if err := store.Add(first); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	specs, err = store.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("upsert should not grow the store, got %d records", len(specs))
	}
	got, _, _ = store.Get("100")
	if got.Token != "rotated" {
		t.Errorf("upsert did not replace record: %+v", got)
	}

	if err := store.Remove("100"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := store.Get("100"); ok {
		t.Error("removed record still present")
	}
	if err := store.Remove("ghost"); err != nil {
		t.Errorf("Remove on unknown id should be a no-op, got %v", err)
	}
}

// TestFileAccountStore_SurvivesReopen verifies a second store over the same
// path sees what the first one wrote.
func TestFileAccountStore_SurvivesReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := NewFileAccountStore(path).Add(AccountSpec{ID: "100", AppID: "app100"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reopened := NewFileAccountStore(path)
	got, ok, err := reopened.Get("100")
	if err != nil || !ok {
		t.Fatalf("Get after reopen = %v, %v, %v", got, ok, err)
	}
	if got.AppID != "app100" {
		t.Errorf("reopened store returned %+v", got)
	}
}

// TestFileAccountStore_RejectsCorruptFile verifies bad YAML surfaces as an
// error instead of an empty store.
func TestFileAccountStore_RejectsCorruptFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileAccountStore(path).List(); err == nil {
		t.Error("List on corrupt file should fail")
	}
}
