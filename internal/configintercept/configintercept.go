// Package configintercept implements the Config Interceptor (C2): a
// loopback HTTP reverse proxy that fetches, parses, and rewrites the
// client-bootstrap JSON document, extracting the real chat endpoint.
package configintercept

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conductorone/deceive/internal/chattarget"
	"github.com/conductorone/deceive/internal/uhttpx"
)

const (
	bootstrapOrigin  = "https://clientconfig.rpg.riotgames.com"
	affinityURL      = "https://riot-geo.pas.si.riotgames.com/pas/v1/service/chat"
	affinityTimeout  = 5 * time.Second
	forwardedHeaders = "User-Agent,Authorization,X-Riot-Entitlements-JWT"
)

// Interceptor is the loopback bootstrap-config reverse proxy.
type Interceptor struct {
	c3Port       int
	target       *chattarget.Cell
	log          *zap.Logger
	client       *uhttpx.Client
	bootstrapURL string
	affinityURL  string

	server *http.Server
}

// Option customizes an Interceptor at construction time; used by tests to
// point at a fake upstream instead of the real Riot origins.
type Option func(*Interceptor)

// WithBootstrapOrigin overrides the scheme+host the bootstrap fetch is
// forwarded to.
func WithBootstrapOrigin(origin string) Option {
	return func(ic *Interceptor) { ic.bootstrapURL = origin }
}

// WithAffinityURL overrides the full PAS affinity endpoint URL.
func WithAffinityURL(u string) Option {
	return func(ic *Interceptor) { ic.affinityURL = u }
}

func New(c3Port int, target *chattarget.Cell, log *zap.Logger, opts ...Option) *Interceptor {
	ic := &Interceptor{
		c3Port:       c3Port,
		target:       target,
		log:          log,
		client:       uhttpx.New(&http.Client{Timeout: 30 * time.Second}),
		bootstrapURL: bootstrapOrigin,
		affinityURL:  affinityURL,
	}
	for _, opt := range opts {
		opt(ic)
	}
	return ic
}

// Start binds the loopback listener and begins serving. It returns the
// bound port.
func (ic *Interceptor) Start() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("configintercept: listen: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", ic.handle)
	ic.server = &http.Server{Handler: mux}

	port := ln.Addr().(*net.TCPAddr).Port
	ic.log.Info("config interceptor bound", zap.Int("port", port))

	go func() {
		if err := ic.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			ic.log.Error("config interceptor stopped serving", zap.Error(err))
		}
	}()

	return port, nil
}

func (ic *Interceptor) Stop() error {
	if ic.server == nil {
		return nil
	}
	return ic.server.Close()
}

func (ic *Interceptor) handle(w http.ResponseWriter, r *http.Request) {
	base, err := url.Parse(ic.bootstrapURL)
	if err != nil {
		ic.log.Error("invalid bootstrap origin", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	upstream := &url.URL{
		Scheme:   base.Scheme,
		Host:     base.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}

	var opts []uhttpx.RequestOption
	for _, h := range strings.Split(forwardedHeaders, ",") {
		opts = append(opts, uhttpx.WithHeader(h, r.Header.Get(h)))
	}

	req, err := ic.client.NewRequest(r.Context(), r.Method, upstream, opts...)
	if err != nil {
		ic.log.Error("failed to build upstream config request", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	resp, err := ic.client.Do(req)
	if err != nil {
		ic.log.Error("config fetch transport failure", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		ic.log.Error("failed reading upstream config body", zap.Error(err))
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(body)
		return
	}

	rewritten, err := ic.rewriteBody(r.Context(), r.Header.Get("Authorization"), body)
	if err != nil {
		ic.log.Warn("failed to parse bootstrap config, forwarding unmodified", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rewritten)
}

// rewriteBody applies the chat.host/chat.port/chat.affinities/
// chat.allow_bad_cert.enabled mutations to the bootstrap document and
// emits ChatTarget the first time both a host and port are recovered.
func (ic *Interceptor) rewriteBody(ctx context.Context, authHeader string, body []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("configintercept: parse bootstrap json: %w", err)
	}

	var candidateHost string
	var candidatePort uint16

	if h, ok := doc["chat.host"].(string); ok {
		candidateHost = h
		doc["chat.host"] = "127.0.0.1"
	}
	if p, ok := doc["chat.port"].(float64); ok {
		candidatePort = uint16(p)
		doc["chat.port"] = float64(ic.c3Port)
	}
	if _, ok := doc["chat.allow_bad_cert.enabled"]; ok {
		doc["chat.allow_bad_cert.enabled"] = true
	}

	if affinities, ok := doc["chat.affinities"].(map[string]any); ok {
		enabled, _ := doc["chat.affinity.enabled"].(bool)
		if enabled && authHeader != "" {
			if resolved, err := ic.resolveAffinity(ctx, authHeader, affinities); err != nil {
				ic.log.Debug("affinity lookup failed, keeping fallback host", zap.Error(err))
			} else if resolved != "" {
				candidateHost = resolved
			}
		}
		for k := range affinities {
			affinities[k] = "127.0.0.1"
		}
		doc["chat.affinities"] = affinities
	}

	if candidateHost != "" && candidatePort != 0 {
		if ic.target.Set(chattarget.Target{Host: candidateHost, Port: candidatePort}) {
			ic.log.Info("chat target discovered", zap.String("host", candidateHost), zap.Uint16("port", candidatePort))
		}
	}

	return json.Marshal(doc)
}

// resolveAffinity performs the auxiliary PAS lookup and returns the
// player's true chat host, or an error if any step fails. All errors here
// are meant to be swallowed by the caller.
func (ic *Interceptor) resolveAffinity(ctx context.Context, authHeader string, affinities map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, affinityTimeout)
	defer cancel()

	u, err := url.Parse(ic.affinityURL)
	if err != nil {
		return "", fmt.Errorf("configintercept: parse affinity url: %w", err)
	}

	req, err := ic.client.NewRequest(ctx, http.MethodGet, u, uhttpx.WithHeader("Authorization", authHeader))
	if err != nil {
		return "", fmt.Errorf("configintercept: build affinity request: %w", err)
	}

	resp, err := ic.client.Do(req, uhttpx.RequireSuccess())
	if err != nil {
		return "", fmt.Errorf("configintercept: affinity request failed: %w", err)
	}
	defer resp.Body.Close()

	tokenBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("configintercept: read affinity response: %w", err)
	}

	affinity, err := decodeAffinityClaim(strings.TrimSpace(string(tokenBytes)))
	if err != nil {
		return "", err
	}

	resolved, ok := affinities[affinity]
	if !ok {
		return "", fmt.Errorf("configintercept: affinity %q not present in chat.affinities", affinity)
	}
	resolvedHost, ok := resolved.(string)
	if !ok {
		return "", fmt.Errorf("configintercept: affinity %q resolved to non-string value", affinity)
	}
	return resolvedHost, nil
}
