package memory

import (
	"context"
	"sync"

	"davsync/store"
)

// Credentials is an in-memory CredentialStore for tests and preview
// runs. Nothing is written to disk.
type Credentials struct {
	mu        sync.RWMutex
	passwords map[string]string
}

var _ store.CredentialStore = (*Credentials)(nil)

func NewCredentials() *Credentials {
	return &Credentials{passwords: make(map[string]string)}
}

func credKey(baseURL, username string) string {
	return baseURL + "\x00" + username
}

func (c *Credentials) GetPassword(_ context.Context, baseURL, username string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	pw, ok := c.passwords[credKey(baseURL, username)]
	if !ok {
		return "", store.ErrNotFound
	}
	return pw, nil
}

func (c *Credentials) SaveCredentials(_ context.Context, baseURL, username, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.passwords[credKey(baseURL, username)] = password
	return nil
}

func (c *Credentials) DeleteCredentials(_ context.Context, baseURL, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.passwords, credKey(baseURL, username))
	return nil
}
