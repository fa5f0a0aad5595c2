package auth

import (
	"os"
)

const (
	EnvUsername   = "IGMUTUAL_IG_USERNAME"
	EnvPassword   = "IGMUTUAL_IG_PASSWORD"
	EnvTOTPSecret = "IGMUTUAL_IG_TOTP_SECRET"
)

// EnvironmentStore reads credentials from environment variables.
// It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Name() string { return "env" }

// Save is not supported for environment variables
func (e *EnvironmentStore) Save(creds *Credentials) error {
	return ErrStoreUnavailable
}

// Load gets credentials from environment variables
func (e *EnvironmentStore) Load() (*Credentials, error) {
	username := os.Getenv(EnvUsername)
	password := os.Getenv(EnvPassword)
	if username == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}

	return &Credentials{
		Username:   username,
		Password:   password,
		TOTPSecret: normalizeSecret(os.Getenv(EnvTOTPSecret)),
	}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete() error {
	return ErrStoreUnavailable
}
