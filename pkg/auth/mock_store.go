package auth

import (
	"sync"
)

// MockStore implements CredentialStore in memory for tests
type MockStore struct {
	mu    sync.RWMutex
	creds *Credentials
	saves int

	// Error injection for testing
	SaveError   error
	LoadError   error
	DeleteError error
}

// NewMockStore creates a new mock credential store
func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) Name() string { return "mock" }

// Save keeps a copy of creds
func (m *MockStore) Save(creds *Credentials) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	if creds == nil || creds.Username == "" {
		return ErrInvalidCredentials
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *creds
	m.creds = &cp
	m.saves++
	return nil
}

// Load returns a copy of the stored credentials
func (m *MockStore) Load() (*Credentials, error) {
	if m.LoadError != nil {
		return nil, m.LoadError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.creds == nil {
		return nil, ErrCredentialsNotFound
	}
	cp := *m.creds
	return &cp, nil
}

// Delete drops the stored credentials
func (m *MockStore) Delete() error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.creds == nil {
		return ErrCredentialsNotFound
	}
	m.creds = nil
	return nil
}

// Saves returns how many times Save succeeded
func (m *MockStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

// NewMockManager creates a Manager with a mock store for testing
func NewMockManager() (*Manager, *MockStore) {
	mockStore := NewMockStore()
	return NewManagerWithStores(mockStore), mockStore
}
