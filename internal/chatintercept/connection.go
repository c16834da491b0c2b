package chatintercept

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/conductorone/deceive/internal/presence"
	"github.com/conductorone/deceive/internal/rewriter"
)

// Owner is what a ProxiedConnection needs from the component managing the
// full set of live connections and the current presence mode. The Session
// Supervisor implements this; the interface lives here, not there, so
// chatintercept never imports its owner and no import cycle results.
type Owner interface {
	EffectiveMode() presence.Mode
	Enabled() bool
	ConnectToMuc() bool
	HandleChatToFake(body string)
	Register(c *ProxiedConnection)
	Unregister(c *ProxiedConnection)
}

// ProxiedConnection splices one accepted client TLS connection to the
// upstream chat server dialed on its behalf, running the Presence
// Rewriter over both directions.
type ProxiedConnection struct {
	client   net.Conn
	upstream net.Conn
	owner    Owner
	log      *zap.Logger

	stateMu sync.Mutex
	state   rewriter.State

	aliveMu   sync.Mutex
	alive     bool
	closeOnce sync.Once

	clientWriteMu   sync.Mutex
	upstreamWriteMu sync.Mutex
}

// New wraps an already-established client/upstream pair. The client bytes
// are supplied later, as the channel passed to Run.
func New(client, upstream net.Conn, owner Owner, log *zap.Logger) *ProxiedConnection {
	return &ProxiedConnection{
		client:   client,
		upstream: upstream,
		owner:    owner,
		log:      log,
		alive:    true,
	}
}

// Run launches the two directional pumps. incoming is the channel of
// buffered client bytes fed by the accept path's reader goroutine, which may
// have started collecting bytes before the upstream connection existed. Run
// does not return until both pumps have exited.
func (pc *ProxiedConnection) Run(incoming <-chan []byte) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pc.runIncoming(incoming)
	}()
	go func() {
		defer wg.Done()
		pc.runOutgoing()
	}()
	wg.Wait()
}

func (pc *ProxiedConnection) IsAlive() bool {
	pc.aliveMu.Lock()
	defer pc.aliveMu.Unlock()
	return pc.alive
}

// Close tears down both endpoints exactly once and unregisters from the
// owner's connection set.
func (pc *ProxiedConnection) Close() {
	pc.closeOnce.Do(func() {
		pc.aliveMu.Lock()
		pc.alive = false
		pc.aliveMu.Unlock()

		_ = pc.client.Close()
		_ = pc.upstream.Close()
		pc.owner.Unregister(pc)
	})
}

func (pc *ProxiedConnection) writeClient(data []byte) error {
	pc.clientWriteMu.Lock()
	defer pc.clientWriteMu.Unlock()
	_, err := pc.client.Write(data)
	return err
}

func (pc *ProxiedConnection) writeUpstream(data []byte) error {
	pc.upstreamWriteMu.Lock()
	defer pc.upstreamWriteMu.Unlock()
	_, err := pc.upstream.Write(data)
	return err
}

func (pc *ProxiedConnection) runIncoming(chunks <-chan []byte) {
	for chunk := range chunks {
		pc.handleIncoming(chunk)
		if !pc.IsAlive() {
			return
		}
	}
	pc.Close()
}

func (pc *ProxiedConnection) handleIncoming(chunk []byte) {
	mode := pc.owner.EffectiveMode()
	enabled := pc.owner.Enabled()
	connectToMuc := pc.owner.ConnectToMuc()

	switch {
	case rewriter.ContainsPresenceOpen(chunk) && enabled:
		pc.stateMu.Lock()
		rewritten := rewriter.RewritePresence(chunk, mode, connectToMuc, &pc.state)
		pc.state.LastPresenceFragment = append([]byte(nil), chunk...)
		pc.stateMu.Unlock()

		if err := pc.writeUpstream(rewritten); err != nil {
			pc.log.Debug("client->upstream write failed", zap.Error(err))
			pc.Close()
			return
		}
	case rewriter.ContainsFakeJid(chunk):
		if body, ok := rewriter.ExtractMessageBody(chunk); ok {
			pc.owner.HandleChatToFake(body)
		}
		// never forwarded upstream
	default:
		if err := pc.writeUpstream(chunk); err != nil {
			pc.log.Debug("client->upstream write failed", zap.Error(err))
			pc.Close()
			return
		}
	}

	pc.stateMu.Lock()
	needAnnounce := pc.state.RosterPatched && !pc.state.FakeContactAnnounced
	if needAnnounce {
		pc.state.FakeContactAnnounced = true
	}
	pc.stateMu.Unlock()

	if needAnnounce {
		pc.announceFakeContact()
	}
}

func (pc *ProxiedConnection) runOutgoing() {
	buf := make([]byte, 8192)
	for {
		n, err := pc.upstream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !pc.handleOutgoing(chunk) {
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				pc.log.Debug("upstream read error", zap.Error(err))
			}
			break
		}
	}
	pc.Close()
}

// handleOutgoing returns false if a write failure means the pump should
// stop reading.
func (pc *ProxiedConnection) handleOutgoing(chunk []byte) bool {
	pc.stateMu.Lock()
	patched := pc.state.RosterPatched
	pc.stateMu.Unlock()

	if !patched && rewriter.ContainsRosterOpen(chunk) {
		injected, err := rewriter.InjectRosterItem(chunk)
		if err != nil {
			pc.log.Warn("roster injection failed, forwarding unmodified", zap.Error(err))
			injected = chunk
		}
		if err := pc.writeClient(injected); err != nil {
			return false
		}
		pc.stateMu.Lock()
		pc.state.RosterPatched = true
		pc.stateMu.Unlock()
		return true
	}

	if err := pc.writeClient(chunk); err != nil {
		return false
	}
	return true
}

func (pc *ProxiedConnection) announceFakeContact() {
	pc.stateMu.Lock()
	version := pc.state.CachedValorantVersion
	pc.stateMu.Unlock()

	stanza := rewriter.InitialPresenceXML(version, uuid.NewString(), time.Now().UnixMilli())
	if err := pc.writeClient(stanza); err != nil {
		pc.log.Debug("fake contact announce failed", zap.Error(err))
	}
}

// UpdateStatus re-runs RewritePresence over the last observed outbound
// presence stanza under the new mode and replays it upstream. Connections
// that never saw a client presence stanza are a no-op.
func (pc *ProxiedConnection) UpdateStatus(mode presence.Mode, connectToMuc bool) {
	pc.stateMu.Lock()
	frag := pc.state.LastPresenceFragment
	if frag == nil {
		pc.stateMu.Unlock()
		return
	}
	rewritten := rewriter.RewritePresence(frag, mode, connectToMuc, &pc.state)
	pc.stateMu.Unlock()

	if err := pc.writeUpstream(rewritten); err != nil {
		pc.log.Debug("status replay failed", zap.Error(err))
	}
}

// SendFromFake writes a synthetic chat message from the fake contact to
// the client, provided the roster has been patched and the connection is
// still alive.
func (pc *ProxiedConnection) SendFromFake(body string) {
	if !pc.IsAlive() {
		return
	}
	pc.stateMu.Lock()
	patched := pc.state.RosterPatched
	pc.stateMu.Unlock()
	if !patched {
		return
	}

	msg := rewriter.ChatMessageXML(body, time.Now())
	if err := pc.writeClient(msg); err != nil {
		pc.log.Debug("send from fake contact failed", zap.Error(err))
	}
}
