package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/udisondev/framecap/internal/constants"
	"github.com/udisondev/framecap/internal/crypto"
	"github.com/udisondev/framecap/internal/policy"
	"github.com/udisondev/framecap/internal/protocol"
)

// NetworkEvent is one reconstructed frame.
// Data aliases the pipeline arena and is only valid during the handler call.
type NetworkEvent struct {
	Channel   protocol.Channel
	Direction protocol.Direction
	Timestamp uint64
	Data      []byte
}

// Handler receives pipeline output. Calls are serialized and made while the
// pipeline lock is held, so implementations must return quickly.
type Handler interface {
	NetworkInitialized()
	NetworkEvent(ev NetworkEvent)
}

// Options configures a Pipeline.
type Options struct {
	Policy       policy.Policy
	DeferZoneIPC bool
	ArenaSize    int
	Handler      Handler
	Diagnostics  Diagnostics
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	FramesParsed  uint64
	FramesEmitted uint64
	FramesDropped uint64
	Registered    uint64
	Resolved      uint64
	Pending       int
	Held          int
}

// Pipeline drives frame intake and deferred-payload resolution.
//
// OnFrame and OnResolution are called from different host threads; one mutex
// serializes them together with key state, the completion queue and the arena.
// Ingress methods never panic and never return errors: failures are logged and
// the frame in question is dropped.
type Pipeline struct {
	mu sync.Mutex

	policy       policy.Policy
	deferZoneIPC bool
	enabled      bool
	skipNext     bool

	lobby *crypto.LobbyEncryption
	keys  *crypto.Unscrambler
	queue *Queue
	arena *Arena

	handler Handler
	diag    Diagnostics

	parsed     atomic.Uint64
	emitted    atomic.Uint64
	dropped    atomic.Uint64
	registered atomic.Uint64
	resolved   atomic.Uint64
}

// NewPipeline creates an enabled pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	if opts.Handler == nil {
		return nil, errors.New("creating pipeline: nil handler")
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = LogDiagnostics{}
	}
	if opts.ArenaSize == 0 {
		opts.ArenaSize = constants.DefaultArenaSize
	}

	return &Pipeline{
		policy:       opts.Policy,
		deferZoneIPC: opts.DeferZoneIPC,
		enabled:      true,
		lobby:        crypto.NewLobbyEncryption(opts.Policy.LobbyKey),
		keys:         crypto.NewUnscrambler(),
		queue:        NewQueue(),
		arena:        NewArena(opts.ArenaSize),
		handler:      opts.Handler,
		diag:         opts.Diagnostics,
	}, nil
}

// OnFrame processes one raw frame. data is not retained.
func (p *Pipeline) OnFrame(ch protocol.Channel, dir protocol.Direction, data []byte) {
	defer p.guard("OnFrame")

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	f, err := protocol.Parse(data, ch, dir, p.policy.Schema)
	if err != nil {
		p.dropped.Add(1)
		if errors.Is(err, protocol.ErrUnsupportedCompression) {
			p.diag.Diagnostic(fmt.Sprintf("[%s%s] a frame was compressed", ch, dir))
			return
		}
		slog.Warn("dropping frame", "channel", ch, "direction", dir, "err", err)
		return
	}
	p.parsed.Add(1)

	slog.Debug("frame",
		"channel", ch,
		"direction", dir,
		"proto", f.Tag,
		"count", f.Count,
		"size", f.TotalSize)

	// Ключевое состояние может смениться посреди кадра, поэтому строго по порядку.
	for _, sp := range f.Packets {
		if err := p.intake(f, sp); err != nil {
			slog.Error("dropping frame", "channel", ch, "direction", dir, "err", err)
			p.queue.Forget(f)
			p.dropped.Add(1)
			protocol.ReleaseFrame(f)
			return
		}
	}

	if p.queue.Idle() {
		p.emit(f)
		return
	}
	slog.Debug("holding frame",
		"channel", ch,
		"direction", dir,
		"missing", f.Missing(),
		"packets", len(f.Packets))
	p.queue.Hold(f)
}

func (p *Pipeline) intake(f *protocol.Frame, sp *protocol.SubPacket) error {
	sp.Class = protocol.ClassifyHeader(f.Channel, f.Direction, sp.Kind, p.deferZoneIPC)
	c := &sp.Class

	if c.NetworkInit {
		p.handler.NetworkInitialized()
	}

	if c.EncryptionInit {
		if err := p.lobby.Initialize(sp.Payload); err != nil {
			slog.Warn("lobby cipher initialization failed", "err", err)
		}
	}

	if c.NeedsDecryption {
		if err := p.lobby.Decrypt(sp.Payload); err != nil {
			return fmt.Errorf("decrypting %s sub-packet: %w", sp.Kind, err)
		}
	}

	if c.Deferred {
		sp.Payload = nil
		sp.Pending = true
		p.queue.Register(f, sp, sp.Source)
		p.registered.Add(1)
		return nil
	}

	p.inspect(f, sp)
	return nil
}

// inspect runs the payload-dependent steps: opcode classification,
// obfuscation key derivation and unscrambling.
func (p *Pipeline) inspect(f *protocol.Frame, sp *protocol.SubPacket) {
	if sp.Kind != protocol.KindIPC || !sp.ReadOpcode(p.policy.Schema) {
		return
	}
	c := &sp.Class
	c.ClassifyOpcode(f.Channel, f.Direction, sp.Kind, sp.Opcode, p.policy.Opcodes)

	var err error
	switch c.KeyInit {
	case protocol.KeyInitZone:
		err = p.keys.DeriveFromInitZone(sp.Payload, p.policy.InitZoneKeyOffset, p.policy.KeyTable)
	case protocol.KeyInitUnknown:
		err = p.keys.DeriveFromUnknownInitializer(sp.Payload, p.policy.UnknownInitializerKeyOffset, p.policy.KeyTable)
	}
	if err != nil {
		p.diag.Diagnostic(fmt.Sprintf("[%s] opcode 0x%04X: %v", c.KeyInit, sp.Opcode, err))
	} else if c.KeyInit != protocol.KeyInitNone {
		slog.Debug("obfuscation keys derived",
			"via", c.KeyInit,
			"enabled", p.keys.Enabled(),
			"keys", p.keys.Keys())
	}

	if !c.Obfuscated || !p.keys.Active() {
		return
	}
	if start, end, ok := c.Window.Bounds(len(sp.Payload)); ok {
		p.keys.Apply(sp.Payload[start:end])
	}
}

// OnResolution supplies the payload of the oldest pending sub-packet.
// Matching is strictly FIFO; recipient is only checked for consistency.
// payload is copied before returning.
func (p *Pipeline) OnResolution(recipient uint32, payload []byte) {
	defer p.guard("OnResolution")

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}

	if p.skipNext {
		p.skipNext = false
		return
	}

	reg, ok := p.queue.Next()
	if !ok {
		p.diag.Diagnostic(fmt.Sprintf("resolution for entity %d with no packets in queue", recipient))
		return
	}

	slog.Debug("resolution",
		"entity", recipient,
		"source", reg.recipient,
		"size", reg.packet.PayloadLen)

	if reg.recipient != recipient {
		p.diag.Diagnostic(fmt.Sprintf("resolution entity %d does not match queued source %d", recipient, reg.recipient))
	}

	buf := make([]byte, reg.packet.PayloadLen)
	if n := copy(buf, payload); n < len(buf) {
		p.diag.Diagnostic(fmt.Sprintf("resolution payload for entity %d is %d bytes, expected %d; zero-padded",
			recipient, n, len(buf)))
	}
	reg.packet.Resolve(buf)
	p.inspect(reg.frame, reg.packet)
	p.resolved.Add(1)

	if p.queue.Idle() {
		p.queue.Drain(p.emit, p.discardIncomplete)
	}
}

func (p *Pipeline) discardIncomplete(f *protocol.Frame) {
	p.diag.Diagnostic(fmt.Sprintf("queue is empty, but a %s%s frame has %d packets without data",
		f.Channel, f.Direction, f.Missing()))
	p.dropped.Add(1)
	protocol.ReleaseFrame(f)
}

func (p *Pipeline) emit(f *protocol.Frame) {
	data := p.arena.Write(f)
	p.emitted.Add(1)
	p.handler.NetworkEvent(NetworkEvent{
		Channel:   f.Channel,
		Direction: f.Direction,
		Timestamp: f.Timestamp,
		Data:      data,
	})
	protocol.ReleaseFrame(f)
}

// SkipNextResolution makes the next resolution event pass through without
// consuming a registration. The host calls it when the resolution function is
// entered from a caller that does not correspond to a queued packet.
func (p *Pipeline) SkipNextResolution() {
	defer p.guard("SkipNextResolution")

	p.mu.Lock()
	defer p.mu.Unlock()
	p.skipNext = true
}

// AttachKeys recovers obfuscation keys from live key state observed when the
// hook attaches.
func (p *Pipeline) AttachKeys(live [constants.ObfuscationKeyCount]byte, counterA, counterB uint32) {
	defer p.guard("AttachKeys")

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.keys.Attach(live, counterA, counterB) {
		slog.Info("obfuscation keys recovered from live state", "keys", p.keys.Keys())
		return
	}
	slog.Debug("live key state not ahead of counters", "live", live, "a", counterA, "b", counterB)
}

// Disable stops routing frames and discards queued state without emitting it.
func (p *Pipeline) Disable() {
	defer p.guard("Disable")

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled {
		return
	}
	p.enabled = false
	p.skipNext = false

	discarded := p.queue.Waiting()
	p.queue.Reset(protocol.ReleaseFrame)
	slog.Info("capture pipeline disabled", "discarded_frames", discarded)
}

// Enable resumes frame routing.
func (p *Pipeline) Enable() {
	defer p.guard("Enable")

	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true
}

// Enabled reports whether frames are being routed.
func (p *Pipeline) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	pending, held := p.queue.Pending(), p.queue.Waiting()
	p.mu.Unlock()

	return Stats{
		FramesParsed:  p.parsed.Load(),
		FramesEmitted: p.emitted.Load(),
		FramesDropped: p.dropped.Load(),
		Registered:    p.registered.Load(),
		Resolved:      p.resolved.Load(),
		Pending:       pending,
		Held:          held,
	}
}

func (p *Pipeline) guard(op string) {
	if r := recover(); r != nil {
		slog.Error("capture pipeline panic recovered",
			"op", op,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}
