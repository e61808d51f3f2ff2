package policy

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/udisondev/framecap/internal/protocol"
)

// ErrUnknownVersion is returned by providers that have no policy for a version.
var ErrUnknownVersion = errors.New("unknown game version")

// Policy is the per-version constant table: wire schema, lobby key version,
// obfuscation initializer opcodes and the obfuscated opcode table.
// Immutable once loaded.
type Policy struct {
	Version  string               `yaml:"version"`
	LobbyKey uint16               `yaml:"lobby_key"`
	Schema   protocol.Schema      `yaml:"schema"`
	Opcodes  protocol.OpcodeRules `yaml:"opcodes"`

	// Offsets of the key material inside the two initializer payloads.
	InitZoneKeyOffset           int `yaml:"init_zone_key_offset"`
	UnknownInitializerKeyOffset int `yaml:"unknown_initializer_key_offset"`

	KeyTable HexBytes `yaml:"key_table,omitempty"`
}

// Provider resolves the policy for a game version.
type Provider interface {
	Policy(ctx context.Context, version string) (Policy, error)
}

// Store persists policies learned at runtime.
type Store interface {
	Provider
	Save(ctx context.Context, p Policy) error
}

// New returns a policy for version with the default schema and no opcodes.
func New(version string) Policy {
	return Policy{
		Version: version,
		Schema:  protocol.DefaultSchema(),
		Opcodes: protocol.OpcodeRules{Obfuscated: map[uint16]protocol.Window{}},
	}
}

// UnmarshalYAML decodes a policy on top of New, so omitted schema fields keep their defaults.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	type plain Policy
	r := plain(New(""))
	if err := value.Decode(&r); err != nil {
		return err
	}
	*p = Policy(r)
	return nil
}

// Validate checks the policy for internal consistency.
func (p Policy) Validate() error {
	if p.Version == "" {
		return errors.New("policy: empty version")
	}
	if err := p.Schema.Validate(); err != nil {
		return fmt.Errorf("policy %s: %w", p.Version, err)
	}
	if p.InitZoneKeyOffset < 0 || p.UnknownInitializerKeyOffset < 0 {
		return fmt.Errorf("policy %s: negative key offset", p.Version)
	}
	for op, w := range p.Opcodes.Obfuscated {
		if w.Offset < 0 || w.Length < 0 {
			return fmt.Errorf("policy %s: opcode 0x%04X has a negative window", p.Version, op)
		}
	}
	return nil
}

// HexBytes is a byte slice written as a hex string in YAML.
type HexBytes []byte

// UnmarshalYAML decodes a hex string.
func (h *HexBytes) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decoding hex bytes: %w", err)
	}
	*h = b
	return nil
}

// MarshalYAML encodes the bytes as a hex string.
func (h HexBytes) MarshalYAML() (any, error) {
	return hex.EncodeToString(h), nil
}
