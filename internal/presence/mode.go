// Package presence defines the three-state presence mode the rewriter and
// supervisor operate on.
package presence

import "fmt"

// Mode is the presence state a client is made to appear in to the chat
// backend. It has exactly three inhabitants.
type Mode int

const (
	Offline Mode = iota
	Mobile
	Online
)

// Token returns the canonical wire token used inside XMPP <show> and game
// <st> tags.
func (m Mode) Token() string {
	switch m {
	case Offline:
		return "offline"
	case Mobile:
		return "mobile"
	case Online:
		return "chat"
	default:
		return "offline"
	}
}

// Label returns the human-readable label used in chat replies and the intro
// sequence. Online is reported as "online", not its wire token "chat".
func (m Mode) Label() string {
	if m == Online {
		return "online"
	}
	return m.Token()
}

func (m Mode) String() string {
	switch m {
	case Offline:
		return "Offline"
	case Mobile:
		return "Mobile"
	case Online:
		return "Online"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses a status string from the CLI, persisted config, or a
// chat command. "chat" is accepted as a synonym for Online because the
// wire token for Online is "chat" and callers occasionally pass it back
// verbatim; every other unrecognized string is rejected rather than
// silently defaulting to Offline.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "offline":
		return Offline, nil
	case "mobile":
		return Mobile, nil
	case "online", "chat":
		return Online, nil
	default:
		return Offline, fmt.Errorf("presence: unknown status %q", s)
	}
}
