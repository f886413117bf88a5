// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrSecretNotFound is returned by Open for an unknown name.
var ErrSecretNotFound = errors.New("secret not found")

// SecretStore keeps API keys sealed in memguard enclaves.
//
// Description:
//
//	Keys are encrypted at rest in process memory and only decrypted into
//	a locked buffer for the moment a client is built. Purge wipes them.
//
// Thread Safety: Safe for concurrent use.
type SecretStore struct {
	mu       sync.RWMutex
	enclaves map[string]*memguard.Enclave
}

// NewSecretStore creates an empty store.
func NewSecretStore() *SecretStore {
	return &SecretStore{enclaves: make(map[string]*memguard.Enclave)}
}

// Put seals value under name. value is wiped by memguard.
// Empty values are ignored.
func (s *SecretStore) Put(name string, value []byte) {
	if len(value) == 0 {
		return
	}
	enclave := memguard.NewEnclave(value)

	s.mu.Lock()
	s.enclaves[name] = enclave
	s.mu.Unlock()
}

// PutEnv seals the environment variable name if it is set and reports
// whether it was.
func (s *SecretStore) PutEnv(name string) bool {
	v := os.Getenv(name)
	if v == "" {
		return false
	}
	s.Put(name, []byte(v))
	return true
}

// Has reports whether name is stored.
func (s *SecretStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.enclaves[name]
	return ok
}

// Open decrypts name and returns it as a string.
//
// The returned string lives in ordinary memory; callers hand it straight
// to a client constructor and drop it.
func (s *SecretStore) Open(name string) (string, error) {
	s.mu.RLock()
	enclave, ok := s.enclaves[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	buf, err := enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open secret %s: %w", name, err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

// Purge drops every stored secret and wipes memguard's session key.
func (s *SecretStore) Purge() {
	s.mu.Lock()
	s.enclaves = make(map[string]*memguard.Enclave)
	s.mu.Unlock()
	memguard.Purge()
}
