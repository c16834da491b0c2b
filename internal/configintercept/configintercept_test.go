package configintercept

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/conductorone/deceive/internal/chattarget"
)

func TestRewriteBodyNoAffinity(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chat.host": "chat.na.lol.riotgames.com",
			"chat.port": 5223,
			"chat.affinities": map[string]any{
				"na1": "a",
				"eu1": "b",
			},
			"chat.allow_bad_cert.enabled": false,
		})
	}))
	defer upstream.Close()

	target := chattarget.NewCell()
	ic := New(54321, target, zap.NewNop(), WithBootstrapOrigin(upstream.URL))

	req := httptest.NewRequest(http.MethodGet, "/config?a=1", nil)
	w := httptest.NewRecorder()
	ic.handle(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Equal(t, "127.0.0.1", got["chat.host"])
	require.Equal(t, float64(54321), got["chat.port"])
	require.Equal(t, true, got["chat.allow_bad_cert.enabled"])

	affinities := got["chat.affinities"].(map[string]any)
	require.Equal(t, "127.0.0.1", affinities["na1"])
	require.Equal(t, "127.0.0.1", affinities["eu1"])

	tgt, ok := target.Get()
	require.True(t, ok)
	require.Equal(t, "chat.na.lol.riotgames.com", tgt.Host)
	require.Equal(t, uint16(5223), tgt.Port)
}

func TestRewriteBodyMissingAllowBadCertStaysAbsent(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chat.host": "chat.na.lol.riotgames.com",
			"chat.port": 5223,
		})
	}))
	defer upstream.Close()

	ic := New(1234, chattarget.NewCell(), zap.NewNop(), WithBootstrapOrigin(upstream.URL))
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()
	ic.handle(w, req)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	_, present := got["chat.allow_bad_cert.enabled"]
	require.False(t, present)
}

func TestNon2xxRelayedUnmodified(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"denied"}`))
	}))
	defer upstream.Close()

	ic := New(1234, chattarget.NewCell(), zap.NewNop(), WithBootstrapOrigin(upstream.URL))
	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()
	ic.handle(w, req)

	require.Equal(t, http.StatusForbidden, w.Code)
	require.JSONEq(t, `{"error":"denied"}`, w.Body.String())
}

func TestChatTargetSetAtMostOnce(t *testing.T) {
	calls := 0
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chat.host": "chat.na.lol.riotgames.com",
			"chat.port": 5223,
		})
	}))
	defer upstream.Close()

	target := chattarget.NewCell()
	ic := New(1234, target, zap.NewNop(), WithBootstrapOrigin(upstream.URL))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/config", nil)
		w := httptest.NewRecorder()
		ic.handle(w, req)
	}

	require.Equal(t, 3, calls)
	tgt, ok := target.Get()
	require.True(t, ok)
	require.Equal(t, "chat.na.lol.riotgames.com", tgt.Host)
}

func TestRewriteBodyResolvesAffinityHost(t *testing.T) {
	pas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer player-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(signedAffinityToken(t, "eu1")))
	}))
	defer pas.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chat.host":                   "chat.na.lol.riotgames.com",
			"chat.port":                   5223,
			"chat.affinity.enabled":       true,
			"chat.allow_bad_cert.enabled": false,
			"chat.affinities": map[string]any{
				"na1": "chat.na.lol.riotgames.com",
				"eu1": "chat.eu.lol.riotgames.com",
			},
		})
	}))
	defer upstream.Close()

	target := chattarget.NewCell()
	ic := New(1234, target, zap.NewNop(), WithBootstrapOrigin(upstream.URL), WithAffinityURL(pas.URL))

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("Authorization", "Bearer player-token")
	w := httptest.NewRecorder()
	ic.handle(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	tgt, ok := target.Get()
	require.True(t, ok)
	require.Equal(t, "chat.eu.lol.riotgames.com", tgt.Host, "resolved affinity host should win over the fallback chat.host")
	require.Equal(t, uint16(5223), tgt.Port)

	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	affinities := got["chat.affinities"].(map[string]any)
	require.Equal(t, "127.0.0.1", affinities["na1"])
	require.Equal(t, "127.0.0.1", affinities["eu1"])
}

func TestRewriteBodySwallowsAffinityFailureAndKeepsFallbackHost(t *testing.T) {
	pas := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer pas.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"chat.host":             "chat.na.lol.riotgames.com",
			"chat.port":             5223,
			"chat.affinity.enabled": true,
			"chat.affinities": map[string]any{
				"na1": "chat.na.lol.riotgames.com",
			},
		})
	}))
	defer upstream.Close()

	target := chattarget.NewCell()
	ic := New(1234, target, zap.NewNop(), WithBootstrapOrigin(upstream.URL), WithAffinityURL(pas.URL))

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	req.Header.Set("Authorization", "Bearer player-token")
	w := httptest.NewRecorder()
	ic.handle(w, req)

	require.Equal(t, http.StatusOK, w.Code, "a failed PAS lookup must not fail the outer request")

	tgt, ok := target.Get()
	require.True(t, ok)
	require.Equal(t, "chat.na.lol.riotgames.com", tgt.Host, "fallback chat.host must survive a swallowed affinity error")
}
