package credential

import (
	"errors"
	"fmt"
	"os"

	"github.com/99designs/keyring"
)

const serviceName = "jobchat"

// Well-known credential keys.
const (
	KeyJWTSecret    = "jwt-secret"
	KeyIMAPPassword = "imap-password"
)

// envVars maps a credential key to the environment variable that
// overrides it.
var envVars = map[string]string{
	KeyJWTSecret:    "JOBCHAT_JWT_SECRET",
	KeyIMAPPassword: "JOBCHAT_IMAP_PASSWORD",
}

// openRing returns the keyring backend. Tests swap it out.
var openRing = openKeyring

// openKeyring returns a configured keyring instance.
func openKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/jobchat/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("jobchat-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// ErrNotFound is returned by Lookup when neither the environment nor the
// keyring holds the credential.
var ErrNotFound = errors.New("credential not found")

// Lookup returns a credential from its environment variable when set, and
// from the system keyring otherwise.
func Lookup(key string) (string, error) {
	if env, ok := envVars[key]; ok {
		if v := os.Getenv(env); v != "" {
			return v, nil
		}
	}

	v, err := Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return v, err
}

// Get retrieves a credential value by key from the system keyring.
func Get(key string) (string, error) {
	ring, err := openRing()
	if err != nil {
		return "", err
	}

	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}

	return string(item.Data), nil
}

// Set stores a credential value by key in the system keyring.
func Set(key string, value string) error {
	ring, err := openRing()
	if err != nil {
		return err
	}

	err = ring.Set(keyring.Item{
		Key:   key,
		Data:  []byte(value),
		Label: "jobchat " + key,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}

	return nil
}

// Delete removes a credential by key from the system keyring.
func Delete(key string) error {
	ring, err := openRing()
	if err != nil {
		return err
	}

	err = ring.Remove(key)
	if err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}

	return nil
}
