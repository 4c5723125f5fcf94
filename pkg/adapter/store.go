// Copyright 2025-2026 The qqbridge Authors
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package adapter

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// AccountStore persists account records outside the main config, so
// accounts can be added and removed at runtime and survive restarts.
type AccountStore interface {
	List() ([]AccountSpec, error)
	Get(id string) (AccountSpec, bool, error)
	Add(spec AccountSpec) error
	Remove(id string) error
}

// FileAccountStore is a YAML-file AccountStore. Writes go through a temp
// file and rename so a crash never leaves a half-written store.
type FileAccountStore struct {
	path string
	mu   sync.Mutex
}

var _ AccountStore = (*FileAccountStore)(nil)

func NewFileAccountStore(path string) *FileAccountStore {
	return &FileAccountStore{path: path}
}

func (s *FileAccountStore) load() ([]AccountSpec, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var specs []AccountSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, fmt.Errorf("parse account store: %w", err)
	}
	return specs, nil
}

func (s *FileAccountStore) save(specs []AccountSpec) error {
	data, err := yaml.Marshal(specs)
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileAccountStore) List() ([]AccountSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *FileAccountStore) Get(id string) (AccountSpec, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return AccountSpec{}, false, err
	}
	for _, spec := range specs {
		if spec.ID == id {
			return spec, true, nil
		}
	}
	return AccountSpec{}, false, nil
}

// Add inserts or replaces the record with the same id.
func (s *FileAccountStore) Add(spec AccountSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range specs {
		if specs[i].ID == spec.ID {
			specs[i] = spec
			replaced = true
			break
		}
	}
	if !replaced {
		specs = append(specs, spec)
	}
	return s.save(specs)
}

func (s *FileAccountStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	specs, err := s.load()
	if err != nil {
		return err
	}
	kept := specs[:0]
	for _, spec := range specs {
		if spec.ID != id {
			kept = append(kept, spec)
		}
	}
	return s.save(kept)
}
