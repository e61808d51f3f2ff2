package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/framecap/internal/constants"
	"github.com/udisondev/framecap/internal/protocol"
)

// Session describes one capture session.
type Session struct {
	ID      uuid.UUID
	Version string
	Start   time.Time
}

// Record is one emitted frame belonging to a session.
type Record struct {
	Session   uuid.UUID
	Seq       uint64
	Channel   protocol.Channel
	Direction protocol.Direction
	Timestamp uint64
	Data      []byte
}

// Sink persists capture sessions. All calls come from the writer goroutine,
// in emission order. Record.Data must not be retained after AppendFrame returns.
type Sink interface {
	BeginSession(ctx context.Context, s Session) error
	AppendFrame(ctx context.Context, r Record) error
	EndSession(ctx context.Context, id uuid.UUID, end time.Time) error
}

type opKind uint8

const (
	opBegin opKind = iota
	opFrame
	opEnd
)

func (k opKind) String() string {
	switch k {
	case opBegin:
		return "begin"
	case opFrame:
		return "frame"
	case opEnd:
		return "end"
	default:
		return "unknown"
	}
}

type writeOp struct {
	kind    opKind
	session Session
	record  Record
	end     time.Time
}

// SessionManager turns pipeline output into capture sessions.
//
// A network-initialized signal begins a session, or restarts it when one is
// already running. Network events outside a session are dropped. Sink writes
// happen on the goroutine running Run; enqueueing never blocks and a full
// queue drops the operation with a warning.
type SessionManager struct {
	version string
	sink    Sink
	ops     chan writeOp
	bufs    *BytePool
	now     func() time.Time

	mu      sync.Mutex
	current uuid.UUID
	seq     uint64
	active  bool

	dropped uint64
}

// NewSessionManager creates a SessionManager writing to sink.
func NewSessionManager(version string, sink Sink, queueSize int) *SessionManager {
	if queueSize <= 0 {
		queueSize = constants.DefaultWriterQueueSize
	}
	return &SessionManager{
		version: version,
		sink:    sink,
		ops:     make(chan writeOp, queueSize),
		bufs:    NewBytePool(4096),
		now:     time.Now,
	}
}

// NetworkInitialized implements Handler.
func (m *SessionManager) NetworkInitialized() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		slog.Info("network re-initialized, restarting capture session", "session", m.current)
		m.endLocked()
	}

	s := Session{ID: uuid.New(), Version: m.version, Start: m.now()}
	// Без записанного начала кадры сессии некуда писать.
	if !m.enqueueLocked(writeOp{kind: opBegin, session: s}) {
		slog.Warn("capture session not started, writer queue full", "session", s.ID)
		return
	}
	m.current = s.ID
	m.seq = 0
	m.active = true
	slog.Info("capture session started", "session", s.ID, "version", s.Version)
}

// NetworkEvent implements Handler.
func (m *SessionManager) NetworkEvent(ev NetworkEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.active {
		return
	}

	r := Record{
		Session:   m.current,
		Seq:       m.seq,
		Channel:   ev.Channel,
		Direction: ev.Direction,
		Timestamp: ev.Timestamp,
		Data:      m.bufs.Clone(ev.Data),
	}
	m.seq++
	if !m.enqueueLocked(writeOp{kind: opFrame, record: r}) {
		m.bufs.Put(r.Data)
	}
}

// End finishes the running session, if any.
func (m *SessionManager) End() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active {
		m.endLocked()
	}
}

// Current returns the running session id.
func (m *SessionManager) Current() (uuid.UUID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current, m.active
}

// Dropped returns the number of operations lost to a full queue.
func (m *SessionManager) Dropped() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped
}

func (m *SessionManager) endLocked() {
	slog.Info("capture session finished", "session", m.current, "frames", m.seq)
	m.enqueueLocked(writeOp{kind: opEnd, session: Session{ID: m.current}, end: m.now()})
	m.active = false
	m.current = uuid.Nil
}

func (m *SessionManager) enqueueLocked(op writeOp) bool {
	select {
	case m.ops <- op:
		return true
	default:
		m.dropped++
		slog.Warn("capture writer queue full, dropping operation",
			"kind", op.kind,
			"dropped_total", m.dropped)
		return false
	}
}

// Run writes queued operations to the sink until ctx is cancelled.
// On cancellation the queue is flushed, the running session is ended and
// its end marker written. Sink calls do not observe the cancellation.
func (m *SessionManager) Run(ctx context.Context) error {
	wctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			m.flush(wctx)
			m.End()
			m.flush(wctx)
			return nil
		case op := <-m.ops:
			m.write(wctx, op)
		}
	}
}

func (m *SessionManager) flush(ctx context.Context) {
	for {
		select {
		case op := <-m.ops:
			m.write(ctx, op)
		default:
			return
		}
	}
}

func (m *SessionManager) write(ctx context.Context, op writeOp) {
	var err error
	id := op.session.ID
	switch op.kind {
	case opBegin:
		err = m.sink.BeginSession(ctx, op.session)
	case opFrame:
		id = op.record.Session
		err = m.sink.AppendFrame(ctx, op.record)
		m.bufs.Put(op.record.Data)
	case opEnd:
		err = m.sink.EndSession(ctx, id, op.end)
	}
	if err != nil {
		slog.Error("capture sink write failed", "kind", op.kind, "session", id, "err", err)
	}
}

// LogSink is a Sink that only logs session boundaries and counts frames.
// Used when no persistent store is configured.
type LogSink struct {
	mu     sync.Mutex
	frames map[uuid.UUID]int
	bytes  map[uuid.UUID]int
}

// NewLogSink creates a LogSink.
func NewLogSink() *LogSink {
	return &LogSink{frames: make(map[uuid.UUID]int), bytes: make(map[uuid.UUID]int)}
}

// BeginSession implements Sink.
func (s *LogSink) BeginSession(_ context.Context, sess Session) error {
	slog.Info("session begin", "session", sess.ID, "version", sess.Version, "start", sess.Start)
	return nil
}

// AppendFrame implements Sink.
func (s *LogSink) AppendFrame(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames[r.Session]++
	s.bytes[r.Session] += len(r.Data)
	return nil
}

// EndSession implements Sink.
func (s *LogSink) EndSession(_ context.Context, id uuid.UUID, end time.Time) error {
	s.mu.Lock()
	frames, size := s.frames[id], s.bytes[id]
	delete(s.frames, id)
	delete(s.bytes, id)
	s.mu.Unlock()

	slog.Info("session end", "session", id, "frames", frames, "bytes", size, "end", end)
	return nil
}
