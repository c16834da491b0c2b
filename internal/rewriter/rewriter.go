// Package rewriter implements the streaming XMPP-fragment substitutions
// applied to presence stanzas in flight, and the templates for the
// synthetic fake-contact stanzas injected into the stream.
//
// It never parses XML. Every substitution is an anchored regular
// expression applied to the UTF-8 view of a single chunk, on the
// assumption that one chunk carries one complete stanza. A chunk that
// splits a fragment is forwarded unchanged; RewritePresence is
// deliberately fail-open for the same reason.
package rewriter

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/conductorone/deceive/internal/presence"
)

const (
	// FakeJid is the bare JID of the synthetic roster contact.
	FakeJid = "41c322a1-b328-495b-a004-5ccd3e45eae8@eu1.pvp.net"
	// FakeResource is the resource used on the fake contact's full JID.
	FakeResource = "RC-Deceive"
	// FakeDisplayName carries a leading tab so the client sorts it above
	// real friends.
	FakeDisplayName = "\tDeceive Active!"

	rosterOpenMarker = `<query xmlns='jabber:iq:riotgames:roster'>`
)

var (
	showRe       = regexp.MustCompile(`(?s)<show>.*?</show>`)
	leagueStRe   = regexp.MustCompile(`(?s)(<games>.*?<league_of_legends>.*?)<st>[^<]*</st>`)
	statusRe     = regexp.MustCompile(`(?s)<status>.*?</status>`)
	leagueBlkRe  = regexp.MustCompile(`(?s)<league_of_legends>.*?</league_of_legends>`)
	valorantBlk  = regexp.MustCompile(`(?s)<valorant>.*?</valorant>`)
	valorantVer  = regexp.MustCompile(`(?s)<valorant>.*?<p>([^<]+)</p>`)
	baconBlkRe   = regexp.MustCompile(`(?s)<bacon>.*?</bacon>`)
	lionBlkRe    = regexp.MustCompile(`(?s)<lion>.*?</lion>`)
	keystoneRe   = regexp.MustCompile(`(?s)<keystone>.*?</keystone>`)
	riotClientRe = regexp.MustCompile(`(?s)<riot_client>.*?</riot_client>`)
	pTagRe       = regexp.MustCompile(`(?s)<p>.*?</p>`)
	mTagRe       = regexp.MustCompile(`(?s)<m>.*?</m>`)
)

// State is the mutable, per-connection bookkeeping the rewriter needs.
// It is owned by exactly one ProxiedConnection and must never be shared.
type State struct {
	LastPresenceFragment  []byte
	RosterPatched         bool
	FakeContactAnnounced  bool
	CachedValorantVersion string
}

// ContainsPresenceOpen reports whether chunk carries an outbound presence
// stanza.
func ContainsPresenceOpen(chunk []byte) bool {
	return strings.Contains(string(chunk), "<presence")
}

// ContainsFakeJid reports whether chunk addresses the synthetic contact.
func ContainsFakeJid(chunk []byte) bool {
	return strings.Contains(string(chunk), FakeJid)
}

// ContainsRosterOpen reports whether chunk carries the roster query's
// opening tag.
func ContainsRosterOpen(chunk []byte) bool {
	return strings.Contains(string(chunk), rosterOpenMarker)
}

// RewritePresence applies the mode-dependent substitutions described for
// outbound presence stanzas. It is fail-open: any panic inside a
// substitution helper is recovered and the original chunk is returned
// unmodified, because forwarding a byte-correct stream outranks hiding
// presence.
func RewritePresence(chunk []byte, mode presence.Mode, connectToMuc bool, st *State) (out []byte) {
	out = chunk
	defer func() {
		if r := recover(); r != nil {
			out = chunk
		}
	}()

	text := string(chunk)

	if connectToMuc && strings.Contains(text, " to=") {
		return chunk
	}

	if mode == presence.Online {
		return chunk
	}

	text = showRe.ReplaceAllString(text, fmt.Sprintf("<show>%s</show>", mode.Token()))
	text = leagueStRe.ReplaceAllString(text, fmt.Sprintf("${1}<st>%s</st>", mode.Token()))
	text = statusRe.ReplaceAllString(text, "")

	if mode == presence.Mobile {
		text = stripFirstPAndM(text)
	} else {
		text = leagueBlkRe.ReplaceAllString(text, "")
	}

	if st.CachedValorantVersion == "" {
		if v, ok := extractValorantVersion(text); ok {
			st.CachedValorantVersion = v
		}
	}

	text = valorantBlk.ReplaceAllString(text, "")
	text = baconBlkRe.ReplaceAllString(text, "")
	text = lionBlkRe.ReplaceAllString(text, "")
	text = keystoneRe.ReplaceAllString(text, "")
	text = riotClientRe.ReplaceAllString(text, "")

	return []byte(text)
}

func stripFirstPAndM(text string) string {
	return leagueBlkRe.ReplaceAllStringFunc(text, func(block string) string {
		removedP := false
		block = pTagRe.ReplaceAllStringFunc(block, func(tag string) string {
			if removedP {
				return tag
			}
			removedP = true
			return ""
		})
		removedM := false
		block = mTagRe.ReplaceAllStringFunc(block, func(tag string) string {
			if removedM {
				return tag
			}
			removedM = true
			return ""
		})
		return block
	})
}

// extractValorantVersion scans text for a <valorant> block's base64 <p>
// payload and pulls partyPresenceData.partyClientVersion out of it.
// Malformed payloads are ignored, matching the fail-open posture of the
// rewriter as a whole.
func extractValorantVersion(text string) (string, bool) {
	m := valorantVer.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}

	raw, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", false
	}

	var payload struct {
		PartyPresenceData struct {
			PartyClientVersion string `json:"partyClientVersion"`
		} `json:"partyPresenceData"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", false
	}
	if payload.PartyPresenceData.PartyClientVersion == "" {
		return "", false
	}
	return payload.PartyPresenceData.PartyClientVersion, true
}

// InjectRosterItem splices the synthetic contact's roster item immediately
// after the roster query's opening tag. It returns the chunk unmodified,
// wrapped with a diagnosable error, if the marker can't be found — callers
// should only call this after ContainsRosterOpen returned true.
func InjectRosterItem(chunk []byte) ([]byte, error) {
	idx := strings.Index(string(chunk), rosterOpenMarker)
	if idx < 0 {
		return chunk, errors.New("rewriter: roster open marker not found")
	}
	insertAt := idx + len(rosterOpenMarker)

	out := make([]byte, 0, len(chunk)+len(rosterItemXML))
	out = append(out, chunk[:insertAt]...)
	out = append(out, rosterItemXML...)
	out = append(out, chunk[insertAt:]...)
	return out, nil
}

const rosterItemXML = `<item jid='` + FakeJid + `' name='` + FakeDisplayName + `' subscription='both' puuid='41c322a1-b328-495b-a004-5ccd3e45eae8'>` +
	`<group priority='9999'>Deceive</group>` +
	`<state>online</state>` +
	`<id name='` + FakeDisplayName + `' tagline='...'/>` +
	`<lol name='` + FakeDisplayName + `'/>` +
	`<platforms><riot name='` + "\tDeceive Active" + `' tagline='...'/></platforms>` +
	`</item>`
