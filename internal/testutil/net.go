package testutil

import (
	"context"
	"net"
	"testing"
	"time"
)

// ListenTCP открывает listener на свободном порту loopback и закрывает его в Cleanup.
func ListenTCP(tb testing.TB) (net.Listener, string) {
	tb.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		tb.Fatalf("listening on loopback: %v", err)
	}
	tb.Cleanup(func() { _ = ln.Close() })

	return ln, ln.Addr().String()
}

// ContextWithTimeout отменяется по таймауту или в конце теста.
func ContextWithTimeout(tb testing.TB, d time.Duration) context.Context {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	tb.Cleanup(cancel)
	return ctx
}

// ContextWithCancel отменяется вручную или в конце теста.
func ContextWithCancel(tb testing.TB) (context.Context, context.CancelFunc) {
	tb.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	tb.Cleanup(cancel)
	return ctx, cancel
}

// WaitUntil опрашивает cond каждые 10ms и валит тест, если за timeout условие так и не выполнилось.
// Замена time.Sleep для асинхронных проверок (сервер принял данные, writer сбросил очередь).
func WaitUntil(tb testing.TB, cond func() bool, timeout time.Duration) {
	tb.Helper()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		if cond() {
			return
		}
		select {
		case <-deadline.C:
			tb.Fatalf("condition not met within %v", timeout)
		case <-tick.C:
		}
	}
}
