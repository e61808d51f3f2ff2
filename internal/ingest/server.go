package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/udisondev/framecap/internal/config"
	"github.com/udisondev/framecap/internal/constants"
	"github.com/udisondev/framecap/internal/protocol"
)

// Target receives host events. capture.Pipeline implements it.
type Target interface {
	OnFrame(ch protocol.Channel, dir protocol.Direction, data []byte)
	OnResolution(recipient uint32, payload []byte)
	SkipNextResolution()
	AttachKeys(live [constants.ObfuscationKeyCount]byte, counterA, counterB uint32)
	Disable()
	Enable()
}

// Server accepts host bridge connections and dispatches their messages to the target.
// Messages are dispatched synchronously on the connection goroutine, in order.
type Server struct {
	cfg      config.IngestConfig
	target   Target
	readPool *BytePool

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates a new bridge server.
func NewServer(cfg config.IngestConfig, target Target) *Server {
	size := cfg.ReadBufferSize
	if size <= 0 {
		size = constants.DefaultIngestReadBufSize
	}
	return &Server{
		cfg:      cfg,
		target:   target,
		readPool: NewBytePool(size),
	}
}

// Addr возвращает адрес, на котором слушает сервер.
// Возвращает nil если сервер ещё не запущен.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close закрывает listener и останавливает сервер.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run начинает слушать cfg.BindAddress:cfg.Port и запускает accept loop.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve принимает готовый listener и запускает accept loop.
// Блокируется, пока ctx не отменён и все соединения не закрыты.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		slog.Info("ingest server started", "address", ln.Addr())
		s.acceptLoop(ctx, &wg, ln)
	})

	wg.Wait()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				slog.Error("failed to accept new connection", "error", err)
				continue
			}
			wg.Go(func() {
				s.handleConnection(ctx, conn)
			})
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()

	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	remote := conn.RemoteAddr().String()
	slog.Info("host connected", "remote", remote)

	buf := s.readPool.Get()
	defer s.readPool.Put(buf)

	for {
		kind, body, err := ReadMessage(conn, buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				slog.Info("host disconnected", "remote", remote)
			} else {
				slog.Error("reading bridge message", "remote", remote, "err", err)
			}
			return
		}

		if err := s.dispatch(kind, body); err != nil {
			slog.Error("closing host connection", "remote", remote, "kind", kind, "err", err)
			return
		}
	}
}

func (s *Server) dispatch(kind Kind, body []byte) error {
	switch kind {
	case KindFrame:
		ch, dir, frame, err := DecodeFrame(body)
		if err != nil {
			return err
		}
		s.target.OnFrame(ch, dir, frame)
	case KindResolution:
		recipient, payload, err := DecodeResolution(body)
		if err != nil {
			return err
		}
		s.target.OnResolution(recipient, payload)
	case KindSkipNext:
		s.target.SkipNextResolution()
	case KindKeyProbe:
		probe, err := DecodeKeyProbe(body)
		if err != nil {
			return err
		}
		s.target.AttachKeys(probe.Live, probe.CounterA, probe.CounterB)
	case KindDisable:
		s.target.Disable()
	case KindEnable:
		s.target.Enable()
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrMalformedMessage, uint8(kind))
	}
	return nil
}
