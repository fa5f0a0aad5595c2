package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Credentials are the login secrets of the scraping account
type Credentials struct {
	Username         string    `json:"username"`
	Password         string    `json:"password"`
	TOTPSecret       string    `json:"totp_secret,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
	LastLoginAt      time.Time `json:"last_login_at,omitempty"`
	LastLoginSuccess bool      `json:"last_login_success"`
	LastError        string    `json:"last_error,omitempty"`
}

// Validate checks the fields required for a login
func (c *Credentials) Validate() error {
	if c == nil {
		return ErrInvalidCredentials
	}
	if strings.TrimSpace(c.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidCredentials)
	}
	if c.Password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidCredentials)
	}
	if c.TOTPSecret != "" && !isBase32(c.TOTPSecret) {
		return fmt.Errorf("%w: TOTP secret must be base32", ErrInvalidCredentials)
	}
	return nil
}

// CredentialStore persists the single active set of credentials
type CredentialStore interface {
	// Load returns ErrCredentialsNotFound when nothing is stored
	Load() (*Credentials, error)

	// Save replaces the stored credentials
	Save(creds *Credentials) error

	// Delete removes the stored credentials
	Delete() error

	// Name identifies the backend in logs
	Name() string
}

// Manager reads and writes credentials through an ordered list of stores.
// Writes go to the first store that accepts them; reads return the first hit.
type Manager struct {
	mu     sync.Mutex
	stores []CredentialStore
	now    func() time.Time
}

// NewManager creates a credential manager for the configured backend.
// Environment variables are always consulted last.
func NewManager(backend, credentialsFile string) (*Manager, error) {
	var stores []CredentialStore

	switch strings.ToLower(backend) {
	case "keyring":
		keyringStore, err := NewKeyringStore()
		if err != nil {
			return nil, err
		}
		stores = append(stores, keyringStore)
	case "file", "":
		fileStore, err := NewEncryptedFileStore(credentialsFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to create encrypted store: %w", err)
		}
		stores = append(stores, fileStore)
	case "env":
	default:
		return nil, fmt.Errorf("unknown credential backend %q", backend)
	}

	stores = append(stores, NewEnvironmentStore())
	return NewManagerWithStores(stores...), nil
}

// NewManagerWithStores creates a manager over explicit stores
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores, now: time.Now}
}

// Set validates and stores new credentials
func (m *Manager) Set(username, password, totpSecret string) error {
	creds := &Credentials{
		Username:   strings.TrimSpace(username),
		Password:   password,
		TOTPSecret: normalizeSecret(totpSecret),
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	creds.UpdatedAt = m.now()
	return m.save(creds)
}

// Get returns the stored credentials from the first store that has them
func (m *Manager) Get() (*Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load()
}

// Exists reports whether any store holds credentials
func (m *Manager) Exists() bool {
	_, err := m.Get()
	return err == nil
}

// RecordLogin stores the outcome of a login attempt.
// Read-only stores are skipped silently.
func (m *Manager) RecordLogin(loginErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	creds, err := m.load()
	if err != nil {
		return err
	}

	creds.LastLoginAt = m.now()
	creds.LastLoginSuccess = loginErr == nil
	creds.LastError = ""
	if loginErr != nil {
		creds.LastError = loginErr.Error()
	}

	if err := m.save(creds); err != nil && !errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return nil
}

// Delete removes credentials from every writable store
func (m *Manager) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted bool
	var lastErr error
	for _, store := range m.stores {
		err := store.Delete()
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrCredentialsNotFound):
		default:
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return ErrCredentialsNotFound
	}
	return nil
}

func (m *Manager) load() (*Credentials, error) {
	for _, store := range m.stores {
		creds, err := store.Load()
		if err == nil && creds != nil {
			return creds, nil
		}
		if err != nil && !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			return nil, fmt.Errorf("%s store: %w", store.Name(), err)
		}
	}
	return nil, ErrCredentialsNotFound
}

func (m *Manager) save(creds *Credentials) error {
	var lastErr error
	for _, store := range m.stores {
		err := store.Save(creds)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Sanitized returns a copy with secrets masked
func (c *Credentials) Sanitized() *Credentials {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Password = maskString(c.Password)
	if c.TOTPSecret != "" {
		cp.TOTPSecret = maskString(c.TOTPSecret)
	}
	return &cp
}

// maskString masks all but the first 4 and last 4 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// normalizeSecret strips the spaces authenticator apps show in seeds
func normalizeSecret(secret string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
}

func isBase32(s string) bool {
	for _, r := range strings.TrimRight(s, "=") {
		if !(r >= 'A' && r <= 'Z') && !(r >= '2' && r <= '7') {
			return false
		}
	}
	return s != ""
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
