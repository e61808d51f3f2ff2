package capture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/framecap/internal/policy"
	"github.com/udisondev/framecap/internal/protocol"
	"github.com/udisondev/framecap/internal/testutil"
)

const (
	testLobbyKey       = 7000
	opInitZone         = 0x0311
	opUnknownInit      = 0x0126
	opObfuscated       = 0x01A3
	testKeyOffset      = 16
	testUnknownKeyOffs = 16
)

// recorder: Handler, сохраняющий копии всех событий.
type recorder struct {
	inits  int
	events []NetworkEvent
}

func (r *recorder) NetworkInitialized() { r.inits++ }

func (r *recorder) NetworkEvent(ev NetworkEvent) {
	ev.Data = append([]byte(nil), ev.Data...)
	r.events = append(r.events, ev)
}

type diagRecorder struct {
	msgs []string
}

func (d *diagRecorder) Diagnostic(msg string) { d.msgs = append(d.msgs, msg) }

func testPolicy() policy.Policy {
	p := policy.New("test")
	p.LobbyKey = testLobbyKey
	p.Opcodes.InitZone = opInitZone
	p.Opcodes.UnknownInitializer = opUnknownInit
	p.Opcodes.Obfuscated[opObfuscated] = protocol.Window{Offset: 16}
	p.InitZoneKeyOffset = testKeyOffset
	p.UnknownInitializerKeyOffset = testUnknownKeyOffs
	return p
}

func newTestPipeline(t *testing.T, deferZoneIPC bool) (*Pipeline, *recorder, *diagRecorder) {
	t.Helper()
	rec := &recorder{}
	diag := &diagRecorder{}
	p, err := NewPipeline(Options{
		Policy:       testPolicy(),
		DeferZoneIPC: deferZoneIPC,
		Handler:      rec,
		Diagnostics:  diag,
	})
	require.NoError(t, err)
	return p, rec, diag
}

func lobbyKeepAliveFrame() []byte {
	return testutil.BuildFrame(testutil.KeepAlive())
}
