package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"github.com/udisondev/framecap/internal/capture"
	"github.com/udisondev/framecap/internal/policy"
	"github.com/udisondev/framecap/internal/protocol"
	"github.com/udisondev/framecap/internal/testutil"
)

// RepositorySuite гоняет репозитории против настоящего PostgreSQL.
// Контейнер поднимается один раз на suite; DB_ADDR позволяет подставить внешнюю базу.
type RepositorySuite struct {
	suite.Suite
	ctx  context.Context
	db   *DB
	pool *pgxpool.Pool
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx = context.Background()

	dsn := os.Getenv("DB_ADDR")
	if dsn == "" {
		dsn = testutil.StartPostgres(s.T())
	}

	s.Require().NoError(RunMigrations(s.ctx, dsn))
	d, err := New(s.ctx, dsn)
	s.Require().NoError(err)
	s.db = d
	s.pool = d.Pool()
}

func (s *RepositorySuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *RepositorySuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx,
		"TRUNCATE TABLE capture_frames, capture_sessions, obfuscated_opcodes, version_policies CASCADE")
	s.Require().NoError(err)
}

func (s *RepositorySuite) TestPolicy_SaveAndLoad() {
	repo := NewPolicyRepository(s.pool)

	p := policy.New("2024.11.06.0000.0000")
	p.LobbyKey = 7000
	p.Opcodes.InitZone = 0x0311
	p.Opcodes.UnknownInitializer = 0x0126
	p.Opcodes.Obfuscated[0x01A3] = protocol.Window{Offset: 16, Length: 8}
	p.Opcodes.Obfuscated[0x0215] = protocol.Window{Offset: 20}
	p.InitZoneKeyOffset = 16
	p.UnknownInitializerKeyOffset = 20
	p.KeyTable = policy.HexBytes{9, 8, 7}
	p.Schema.CountWidth = 4
	p.Schema.CountOffset = 32

	s.Require().NoError(repo.Save(s.ctx, p))

	got, err := repo.Policy(s.ctx, p.Version)
	s.Require().NoError(err)
	s.Equal(p, got)
}

func (s *RepositorySuite) TestPolicy_SaveReplacesOpcodes() {
	repo := NewPolicyRepository(s.pool)

	p := policy.New("v")
	p.Opcodes.Obfuscated[1] = protocol.Window{}
	p.Opcodes.Obfuscated[2] = protocol.Window{}
	s.Require().NoError(repo.Save(s.ctx, p))

	p = policy.New("v")
	p.Opcodes.Obfuscated[3] = protocol.Window{Offset: 4}
	s.Require().NoError(repo.Save(s.ctx, p))

	got, err := repo.Policy(s.ctx, "v")
	s.Require().NoError(err)
	s.Equal(map[uint16]protocol.Window{3: {Offset: 4}}, got.Opcodes.Obfuscated)
	s.Nil(got.KeyTable)
}

func (s *RepositorySuite) TestPolicy_UnknownVersion() {
	_, err := NewPolicyRepository(s.pool).Policy(s.ctx, "missing")
	s.ErrorIs(err, policy.ErrUnknownVersion)
}

func (s *RepositorySuite) TestPolicy_Versions() {
	repo := NewPolicyRepository(s.pool)
	s.Require().NoError(repo.Save(s.ctx, policy.New("b")))
	s.Require().NoError(repo.Save(s.ctx, policy.New("a")))

	versions, err := repo.Versions(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, versions)
}

func (s *RepositorySuite) TestPolicy_ChainLearnsFromFile() {
	repo := NewPolicyRepository(s.pool)
	file := policy.NewMemory(policy.New("from-file"))

	_, err := policy.Chain{Primary: repo, Fallback: file}.Policy(s.ctx, "from-file")
	s.Require().NoError(err)

	_, err = repo.Policy(s.ctx, "from-file")
	s.NoError(err)
}

func (s *RepositorySuite) TestCapture_SessionLifecycle() {
	repo := NewCaptureRepository(s.pool)

	sess := capture.Session{ID: uuid.New(), Version: "v", Start: time.Now().UTC().Truncate(time.Microsecond)}
	s.Require().NoError(repo.BeginSession(s.ctx, sess))

	records := []capture.Record{
		{Session: sess.ID, Seq: 0, Channel: protocol.ChannelLobby, Direction: protocol.DirectionRx, Timestamp: 1700000000000, Data: []byte{1, 2, 3}},
		{Session: sess.ID, Seq: 1, Channel: protocol.ChannelZone, Direction: protocol.DirectionTx, Timestamp: 1700000000001, Data: []byte{4}},
	}
	for _, r := range records {
		s.Require().NoError(repo.AppendFrame(s.ctx, r))
	}

	end := sess.Start.Add(time.Minute)
	s.Require().NoError(repo.EndSession(s.ctx, sess.ID, end))

	row, err := repo.Session(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Require().NotNil(row)
	s.Equal("v", row.Version)
	s.True(sess.Start.Equal(row.Start))
	s.Require().NotNil(row.End)
	s.True(end.Equal(*row.End))
	s.Equal(int64(2), row.Frames)

	frames, err := repo.Frames(s.ctx, sess.ID)
	s.Require().NoError(err)
	s.Equal(records, frames)
}

func (s *RepositorySuite) TestCapture_MissingSession() {
	repo := NewCaptureRepository(s.pool)

	row, err := repo.Session(s.ctx, uuid.New())
	s.NoError(err)
	s.Nil(row)

	s.Error(repo.EndSession(s.ctx, uuid.New(), time.Now()))
	s.Error(repo.AppendFrame(s.ctx, capture.Record{Session: uuid.New(), Data: []byte{1}}))
}

func (s *RepositorySuite) TestCapture_WithSessionManager() {
	repo := NewCaptureRepository(s.pool)
	m := capture.NewSessionManager("v", repo, 16)

	m.NetworkInitialized()
	id, _ := m.Current()
	m.NetworkEvent(capture.NetworkEvent{Channel: protocol.ChannelChat, Data: []byte("hello")})

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.Require().NoError(m.Run(ctx))

	frames, err := repo.Frames(s.ctx, id)
	s.Require().NoError(err)
	s.Require().Len(frames, 1)
	s.Equal([]byte("hello"), frames[0].Data)

	row, err := repo.Session(s.ctx, id)
	s.Require().NoError(err)
	s.NotNil(row.End)
}

func TestRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database tests in short mode")
	}

	suite.Run(t, new(RepositorySuite))
}
