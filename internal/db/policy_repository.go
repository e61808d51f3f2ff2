package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"gopkg.in/yaml.v3"

	"github.com/udisondev/framecap/internal/policy"
	"github.com/udisondev/framecap/internal/protocol"
)

// PolicyRepository implements policy.Store backed by PostgreSQL.
// The wire schema is kept as a YAML document, opcode tables as rows.
type PolicyRepository struct {
	pool *pgxpool.Pool
}

// Compile-time check.
var _ policy.Store = (*PolicyRepository)(nil)

// NewPolicyRepository creates a new policy repository.
func NewPolicyRepository(pool *pgxpool.Pool) *PolicyRepository {
	return &PolicyRepository{pool: pool}
}

// Policy loads the policy stored for version.
func (r *PolicyRepository) Policy(ctx context.Context, version string) (policy.Policy, error) {
	p := policy.New(version)

	var (
		lobbyKey, initZone, unknownInit int32
		initOffset, unknownOffset       int32
		keyTable                        []byte
		schemaDoc                       string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT lobby_key, init_zone, unknown_initializer,
		        init_zone_key_offset, unknown_initializer_key_offset,
		        key_table, wire_schema
		 FROM version_policies WHERE version = $1`, version,
	).Scan(&lobbyKey, &initZone, &unknownInit, &initOffset, &unknownOffset, &keyTable, &schemaDoc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return policy.Policy{}, fmt.Errorf("%w: %s", policy.ErrUnknownVersion, version)
		}
		return policy.Policy{}, fmt.Errorf("querying policy %q: %w", version, err)
	}

	p.LobbyKey = uint16(lobbyKey)
	p.Opcodes.InitZone = uint16(initZone)
	p.Opcodes.UnknownInitializer = uint16(unknownInit)
	p.InitZoneKeyOffset = int(initOffset)
	p.UnknownInitializerKeyOffset = int(unknownOffset)
	if len(keyTable) > 0 {
		p.KeyTable = keyTable
	}

	schema := protocol.DefaultSchema()
	if err := yaml.Unmarshal([]byte(schemaDoc), &schema); err != nil {
		return policy.Policy{}, fmt.Errorf("decoding wire schema of %q: %w", version, err)
	}
	p.Schema = schema

	rows, err := r.pool.Query(ctx,
		`SELECT opcode, window_offset, window_length
		 FROM obfuscated_opcodes WHERE version = $1`, version)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("querying obfuscated opcodes of %q: %w", version, err)
	}
	defer rows.Close()

	for rows.Next() {
		var opcode, offset, length int32
		if err := rows.Scan(&opcode, &offset, &length); err != nil {
			return policy.Policy{}, fmt.Errorf("scanning obfuscated opcode: %w", err)
		}
		p.Opcodes.Obfuscated[uint16(opcode)] = protocol.Window{Offset: int(offset), Length: int(length)}
	}
	if err := rows.Err(); err != nil {
		return policy.Policy{}, fmt.Errorf("iterating obfuscated opcodes: %w", err)
	}

	return p, nil
}

// Save stores p, replacing any previous policy of the same version.
func (r *PolicyRepository) Save(ctx context.Context, p policy.Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	schemaDoc, err := yaml.Marshal(p.Schema)
	if err != nil {
		return fmt.Errorf("encoding wire schema: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO version_policies
		 (version, lobby_key, init_zone, unknown_initializer,
		  init_zone_key_offset, unknown_initializer_key_offset, key_table, wire_schema, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
		 ON CONFLICT (version) DO UPDATE SET
		  lobby_key=$2, init_zone=$3, unknown_initializer=$4,
		  init_zone_key_offset=$5, unknown_initializer_key_offset=$6,
		  key_table=$7, wire_schema=$8, updated_at=now()`,
		p.Version, int32(p.LobbyKey), int32(p.Opcodes.InitZone), int32(p.Opcodes.UnknownInitializer),
		int32(p.InitZoneKeyOffset), int32(p.UnknownInitializerKeyOffset), []byte(p.KeyTable), string(schemaDoc),
	); err != nil {
		return fmt.Errorf("saving policy %q: %w", p.Version, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM obfuscated_opcodes WHERE version = $1`, p.Version); err != nil {
		return fmt.Errorf("deleting old opcodes of %q: %w", p.Version, err)
	}

	if len(p.Opcodes.Obfuscated) > 0 {
		rows := make([][]any, 0, len(p.Opcodes.Obfuscated))
		for opcode, w := range p.Opcodes.Obfuscated {
			rows = append(rows, []any{p.Version, int32(opcode), int32(w.Offset), int32(w.Length)})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"obfuscated_opcodes"},
			[]string{"version", "opcode", "window_offset", "window_length"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("inserting opcodes of %q: %w", p.Version, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing policy %q: %w", p.Version, err)
	}

	slog.Debug("saved version policy",
		"version", p.Version,
		"obfuscated", len(p.Opcodes.Obfuscated))
	return nil
}

// Versions lists the stored versions.
func (r *PolicyRepository) Versions(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT version FROM version_policies ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return result, nil
}
