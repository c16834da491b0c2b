package rewriter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitialPresenceXML(t *testing.T) {
	out := InitialPresenceXML("1.2.3", "abc-123", 1700000000000)
	s := string(out)

	require.Contains(t, s, FakeJid+"/"+FakeResource)
	require.Contains(t, s, "<league_of_legends>")
	require.Contains(t, s, "<valorant>")
	require.Contains(t, s, "<bacon>")
	require.Contains(t, s, "<keystone>")
	require.Contains(t, s, "<show>chat</show>")
}

func TestChatMessageXML(t *testing.T) {
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)
	out := ChatMessageXML("hello <friend>", now)
	s := string(out)

	require.Contains(t, s, "2026-08-06 12:00:00")
	require.Contains(t, s, "hello &lt;friend&gt;")
	require.NotContains(t, s, "Z'")
}
