package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/framecap/internal/capture"
	"github.com/udisondev/framecap/internal/policy"
	"github.com/udisondev/framecap/internal/protocol"
	"github.com/udisondev/framecap/internal/testutil"
)

type opsSink struct {
	mu  sync.Mutex
	ops []string
}

func (s *opsSink) add(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

func (s *opsSink) BeginSession(context.Context, capture.Session) error {
	s.add("begin")
	return nil
}

func (s *opsSink) AppendFrame(context.Context, capture.Record) error {
	s.add("frame")
	return nil
}

func (s *opsSink) EndSession(context.Context, uuid.UUID, time.Time) error {
	s.add("end")
	return nil
}

// lateServer dispatches one more frame after cancellation, like a host
// connection that is still draining when shutdown starts.
type lateServer struct {
	pipeline *capture.Pipeline
	frame    []byte
}

func (s *lateServer) Run(ctx context.Context) error {
	<-ctx.Done()
	s.pipeline.OnFrame(protocol.ChannelZone, protocol.DirectionTx, s.frame)
	return nil
}

func TestServe_WriterOutlivesServer(t *testing.T) {
	sink := &opsSink{}
	sessions := capture.NewSessionManager("v", sink, 16)
	pipeline, err := capture.NewPipeline(capture.Options{Policy: policy.New("v"), Handler: sessions})
	require.NoError(t, err)

	pipeline.OnFrame(protocol.ChannelLobby, protocol.DirectionRx, testutil.BuildFrame(testutil.KeepAlive()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	server := &lateServer{
		pipeline: pipeline,
		frame:    testutil.BuildFrame(testutil.IPC(1, 2, testutil.IPCPayload(0x0101, []byte("late")))),
	}
	require.NoError(t, serve(ctx, server, sessions, pipeline))

	assert.Equal(t, []string{"begin", "frame", "frame", "end"}, sink.ops)
	assert.False(t, pipeline.Enabled())
	assert.Zero(t, sessions.Dropped())
}
