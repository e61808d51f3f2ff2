package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Memory is an in-memory Store.
type Memory struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

// NewMemory creates a Memory store holding the given policies.
func NewMemory(policies ...Policy) *Memory {
	m := &Memory{policies: make(map[string]Policy, len(policies))}
	for _, p := range policies {
		m.policies[p.Version] = p
	}
	return m
}

// Policy implements Provider.
func (m *Memory) Policy(_ context.Context, version string) (Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[version]
	if !ok {
		return Policy{}, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return p, nil
}

// Save implements Store.
func (m *Memory) Save(_ context.Context, p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.Version] = p
	return nil
}

// Versions returns the number of stored versions.
func (m *Memory) Versions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.policies)
}

type fileFormat struct {
	Policies []Policy `yaml:"policies"`
}

// LoadFile loads a YAML policy file into a Memory store.
// A missing file yields an empty store.
func LoadFile(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("policy file not found, starting with no policies", "path", path)
			return NewMemory(), nil
		}
		return nil, fmt.Errorf("reading policy file %s: %w", path, err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}

	for _, p := range f.Policies {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy file %s: %w", path, err)
		}
	}
	return NewMemory(f.Policies...), nil
}

// WriteFile writes policies to path in the LoadFile format.
func WriteFile(path string, policies ...Policy) error {
	data, err := yaml.Marshal(fileFormat{Policies: policies})
	if err != nil {
		return fmt.Errorf("encoding policies: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing policy file %s: %w", path, err)
	}
	return nil
}

// Chain consults Primary first and falls back to Fallback; a policy found only
// in Fallback is saved into Primary so later lookups (and other processes) see it.
type Chain struct {
	Primary  Store
	Fallback Provider
}

// Policy implements Provider.
func (c Chain) Policy(ctx context.Context, version string) (Policy, error) {
	p, err := c.Primary.Policy(ctx, version)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrUnknownVersion) {
		slog.Warn("primary policy store failed, using fallback", "version", version, "err", err)
	}

	p, err = c.Fallback.Policy(ctx, version)
	if err != nil {
		return Policy{}, err
	}

	if err := c.Primary.Save(ctx, p); err != nil {
		slog.Warn("saving learned policy", "version", version, "err", err)
	}
	return p, nil
}
