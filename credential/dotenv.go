package credential

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/joho/godotenv"
)

// DotenvResolver reads keys from the process environment first and then from
// a dotenv file, which it also writes on SetSecret and DeleteSecret.
type DotenvResolver struct {
	mu     sync.Mutex
	path   string
	lookup func(string) (string, bool)
}

// NewDotenvResolver creates a resolver backed by the dotenv file at path.
func NewDotenvResolver(path string) *DotenvResolver {
	return &DotenvResolver{path: path, lookup: os.LookupEnv}
}

func (d *DotenvResolver) read() (map[string]string, error) {
	env, err := godotenv.Read(d.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credential: read %s: %w", d.path, err)
	}
	return env, nil
}

func (d *DotenvResolver) write(env map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(d.path), 0o700); err != nil {
		return fmt.Errorf("credential: create dir: %w", err)
	}
	if err := godotenv.Write(env, d.path); err != nil {
		return fmt.Errorf("credential: write %s: %w", d.path, err)
	}
	return os.Chmod(d.path, 0o600)
}

// GetSecret implements Resolver.
func (d *DotenvResolver) GetSecret(_ context.Context, providerID string) (string, error) {
	key := EnvKey(providerID)
	if v, ok := d.lookup(key); ok && v != "" {
		return v, nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	env, err := d.read()
	if err != nil {
		return "", err
	}
	return env[key], nil
}

// SetSecret implements Resolver.
func (d *DotenvResolver) SetSecret(_ context.Context, providerID, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	env, err := d.read()
	if err != nil {
		return err
	}
	env[EnvKey(providerID)] = value
	return d.write(env)
}

// DeleteSecret implements Resolver.
func (d *DotenvResolver) DeleteSecret(_ context.Context, providerID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	env, err := d.read()
	if err != nil {
		return err
	}
	key := EnvKey(providerID)
	if _, ok := env[key]; !ok {
		return nil
	}
	delete(env, key)
	return d.write(env)
}
