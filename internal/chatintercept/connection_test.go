package chatintercept

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conductorone/deceive/internal/presence"
)

type fakeOwner struct {
	mu           sync.Mutex
	mode         presence.Mode
	enabled      bool
	connectToMuc bool
	registered   []*ProxiedConnection
	unregistered []*ProxiedConnection
	chatToFake   []string
}

func newFakeOwner() *fakeOwner {
	return &fakeOwner{mode: presence.Offline, enabled: true, connectToMuc: true}
}

func (f *fakeOwner) EffectiveMode() presence.Mode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}
func (f *fakeOwner) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}
func (f *fakeOwner) ConnectToMuc() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectToMuc
}
func (f *fakeOwner) HandleChatToFake(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatToFake = append(f.chatToFake, body)
}
func (f *fakeOwner) Register(c *ProxiedConnection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registered = append(f.registered, c)
}
func (f *fakeOwner) Unregister(c *ProxiedConnection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregistered = append(f.unregistered, c)
}

func readWithTimeout(t *testing.T, conn net.Conn) string {
	t.Helper()
	buf := make([]byte, 4096)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestRosterInjectionThenFakeContactAnnounce(t *testing.T) {
	clientSide, clientConnForServer := net.Pipe()
	upstreamSide, upstreamConnForServer := net.Pipe()

	owner := newFakeOwner()
	pc := New(clientConnForServer, upstreamConnForServer, owner, zap.NewNop())

	incoming := make(chan []byte, 4)
	go pc.Run(incoming)

	// Upstream sends the roster query; expect the client to see it with the
	// fake contact spliced in, followed by the synthetic presence push,
	// because the roster patch must precede the announce.
	rosterChunk := []byte(`<iq><query xmlns='jabber:iq:riotgames:roster'><item jid='friend@pvp.net'/></query></iq>`)
	go func() {
		_, _ = upstreamSide.Write(rosterChunk)
	}()

	first := readWithTimeout(t, clientSide)
	require.Contains(t, first, "friend@pvp.net")
	require.Contains(t, first, "41c322a1-b328-495b-a004-5ccd3e45eae8@eu1.pvp.net")

	// The announce only fires after a client-side chunk is processed
	// (handleIncoming checks RosterPatched after each dispatch). Use a
	// fake-contact-addressed message so this doesn't also require
	// draining the upstream pipe.
	incoming <- []byte(`<message to='41c322a1-b328-495b-a004-5ccd3e45eae8@eu1.pvp.net' type='chat'><body>hi</body></message>`)

	second := readWithTimeout(t, clientSide)
	require.Contains(t, second, "41c322a1-b328-495b-a004-5ccd3e45eae8@eu1.pvp.net/RC-Deceive")
	require.Contains(t, second, "<league_of_legends>")

	close(incoming)
	pc.Close()
}

func TestChatToFakeContactNotForwarded(t *testing.T) {
	_, clientConnForServer := net.Pipe()
	upstreamSide, upstreamConnForServer := net.Pipe()

	owner := newFakeOwner()
	pc := New(clientConnForServer, upstreamConnForServer, owner, zap.NewNop())

	incoming := make(chan []byte, 4)
	go pc.Run(incoming)

	msg := []byte(`<message to='41c322a1-b328-495b-a004-5ccd3e45eae8@eu1.pvp.net' type='chat'><body>status</body></message>`)
	incoming <- msg

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 16)
		_ = upstreamSide.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		_, err := upstreamSide.Read(buf)
		require.Error(t, err) // nothing should have been forwarded
		close(done)
	}()
	<-done

	owner.mu.Lock()
	require.Equal(t, []string{"status"}, owner.chatToFake)
	owner.mu.Unlock()

	close(incoming)
	pc.Close()
}
