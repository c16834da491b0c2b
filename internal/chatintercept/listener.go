// Package chatintercept implements the Chat Interceptor (C3): a
// loopback TLS listener that splices each accepted client connection to
// the real chat server and hands both byte streams to the Presence
// Rewriter.
package chatintercept

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/conductorone/deceive/internal/chattarget"
)

// Listener is the loopback TLS front for the real chat server.
type Listener struct {
	owner  Owner
	target *chattarget.Cell
	log    *zap.Logger

	tlsCfg *tls.Config

	mu       sync.Mutex
	ln       net.Listener
	done     chan struct{}
	stopOnce sync.Once
}

func NewListener(cert tls.Certificate, target *chattarget.Cell, owner Owner, log *zap.Logger) *Listener {
	return &Listener{
		owner:  owner,
		target: target,
		log:    log,
		tlsCfg: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		done: make(chan struct{}),
	}
}

// Start binds the loopback TLS listener and returns its port.
func (l *Listener) Start() (int, error) {
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("chatintercept: listen: %w", err)
	}

	l.mu.Lock()
	l.ln = tls.NewListener(raw, l.tlsCfg)
	l.mu.Unlock()

	port := raw.Addr().(*net.TCPAddr).Port
	l.log.Info("chat interceptor bound", zap.Int("port", port))

	go l.acceptLoop()

	return port, nil
}

// Stop closes the listener; live connections are torn down by the
// supervisor, which owns the connection set.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		ln := l.ln
		l.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}
	})
}

func (l *Listener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				l.log.Warn("chat interceptor accept failed", zap.Error(err))
				return
			}
		}
		go l.handleAccept(conn)
	}
}

// handleAccept buffers client bytes from the instant a connection is
// accepted, since the client has been observed to write before the
// config fetch resolves ChatTarget in rare orderings. Once ChatTarget is
// known, upstream is dialed and the buffered bytes are handed to the
// ProxiedConnection in the order they arrived.
func (l *Listener) handleAccept(conn net.Conn) {
	chunks := make(chan []byte, 256)
	go pumpReads(conn, chunks)

	target, ok := l.target.Wait(l.done)
	if !ok {
		l.log.Debug("chat interceptor shut down before ChatTarget resolved")
		_ = conn.Close()
		return
	}

	addr := net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port)))
	upstream, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true}) //nolint:gosec // upstream cert validation is an explicit non-goal
	if err != nil {
		l.log.Error("failed to dial upstream chat server", zap.String("addr", addr), zap.Error(err))
		_ = conn.Close()
		return
	}

	pc := New(conn, upstream, l.owner, l.log)
	l.owner.Register(pc)
	pc.Run(chunks)
}

// pumpReads continuously reads conn into chunks, in order, until conn
// errors or is closed, at which point chunks is closed.
func pumpReads(conn net.Conn, chunks chan<- []byte) {
	defer close(chunks)
	buf := make([]byte, 8192)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			chunks <- chunk
		}
		if err != nil {
			return
		}
	}
}
