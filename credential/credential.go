// Package credential resolves provider API keys from an opaque secret service.
package credential

import (
	"context"
	"os"
	"strings"
	"sync"
	"unicode"
)

// Resolver is a key/value secret service keyed by provider id. An empty
// value with a nil error means no secret is stored.
type Resolver interface {
	GetSecret(ctx context.Context, providerID string) (string, error)
	SetSecret(ctx context.Context, providerID, value string) error
	DeleteSecret(ctx context.Context, providerID string) error
}

// EnvKey is the variable name holding the key for providerID, e.g. "open-router" -> "OPEN_ROUTER_API_KEY".
func EnvKey(providerID string) string {
	var b strings.Builder
	for _, r := range providerID {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		} else {
			b.WriteByte('_')
		}
	}
	return b.String() + "_API_KEY"
}

// MemoryResolver keeps secrets in process memory.
type MemoryResolver struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryResolver creates a resolver seeded with secrets.
func NewMemoryResolver(secrets map[string]string) *MemoryResolver {
	m := &MemoryResolver{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		m.secrets[k] = v
	}
	return m
}

// GetSecret implements Resolver.
func (m *MemoryResolver) GetSecret(_ context.Context, providerID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secrets[providerID], nil
}

// SetSecret implements Resolver.
func (m *MemoryResolver) SetSecret(_ context.Context, providerID, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[providerID] = value
	return nil
}

// DeleteSecret implements Resolver.
func (m *MemoryResolver) DeleteSecret(_ context.Context, providerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, providerID)
	return nil
}

// EnvResolver reads keys from the process environment under EnvKey names.
// Set and Delete affect only the running process.
type EnvResolver struct{}

// NewEnvResolver creates an environment-backed resolver.
func NewEnvResolver() EnvResolver { return EnvResolver{} }

// GetSecret implements Resolver.
func (EnvResolver) GetSecret(_ context.Context, providerID string) (string, error) {
	return os.Getenv(EnvKey(providerID)), nil
}

// SetSecret implements Resolver.
func (EnvResolver) SetSecret(_ context.Context, providerID, value string) error {
	return os.Setenv(EnvKey(providerID), value)
}

// DeleteSecret implements Resolver.
func (EnvResolver) DeleteSecret(_ context.Context, providerID string) error {
	return os.Unsetenv(EnvKey(providerID))
}
