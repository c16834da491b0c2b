package rewriter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type valorantPresence struct {
	IsValid            bool   `json:"isValid"`
	PartyID            string `json:"partyId"`
	PartyClientVersion string `json:"partyClientVersion"`
	AccountLevel       int    `json:"accountLevel"`
}

// buildValorantPayload base64-encodes the fake contact's Valorant rich
// presence blob, reusing a previously-observed client version when known.
func buildValorantPayload(cachedVersion string) string {
	version := cachedVersion
	if version == "" {
		version = "unknown"
	}
	payload := valorantPresence{
		IsValid:            true,
		PartyID:            "00000000-0000-0000-0000-000000000000",
		PartyClientVersion: version,
		AccountLevel:       1000,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// InitialPresenceXML builds the fake contact's first presence stanza,
// pushed to the client once the roster has been patched.
func InitialPresenceXML(cachedValorantVersion string, randomID string, tsMillis int64) []byte {
	valorantPayload := buildValorantPayload(cachedValorantVersion)
	ts := fmt.Sprintf("%d", tsMillis)

	var b strings.Builder
	fmt.Fprintf(&b, "<presence from='%s/%s' id='b-%s'>", FakeJid, FakeResource, randomID)
	b.WriteString("<games>")

	fmt.Fprintf(&b, "<keystone><st>chat</st><s.t>%s</s.t><s.p>keystone</s.p></keystone>", ts)
	fmt.Fprintf(&b,
		"<league_of_legends><st>chat</st><s.t>%s</s.t><s.p>league_of_legends</s.p><s.c>live</s.c><p>{\"pty\":true}</p></league_of_legends>",
		ts)
	fmt.Fprintf(&b,
		"<valorant><st>chat</st><s.t>%s</s.t><s.p>valorant</s.p><s.r>PC</s.r><p>%s</p></valorant>",
		ts, valorantPayload)
	fmt.Fprintf(&b, "<bacon><st>chat</st><s.t>%s</s.t><s.p>bacon</s.p><s.l>bacon_availability_online</s.l></bacon>", ts)

	b.WriteString("</games>")
	b.WriteString("<show>chat</show><platform>riot</platform><status/>")
	b.WriteString("</presence>")

	return []byte(b.String())
}

// ChatMessageXML builds a synthetic chat message from the fake contact,
// used for command echoes and the intro sequence.
func ChatMessageXML(body string, now time.Time) []byte {
	stamp := isoStampWithoutZ(now)
	var b strings.Builder
	fmt.Fprintf(&b, "<message from='%s/%s' stamp='%s' id='fake-%s' type='chat'>", FakeJid, FakeResource, stamp, stamp)
	fmt.Fprintf(&b, "<body>%s</body>", escapeXMLText(body))
	b.WriteString("</message>")
	return []byte(b.String())
}

// isoStampWithoutZ renders now as ISO-8601 with the 'T' replaced by a
// space and the trailing 'Z' dropped, matching the wire format the
// original chat client expects for message stamps.
func isoStampWithoutZ(now time.Time) string {
	s := now.UTC().Format("2006-01-02T15:04:05Z")
	s = strings.Replace(s, "T", " ", 1)
	return strings.TrimSuffix(s, "Z")
}

func escapeXMLText(s string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return replacer.Replace(s)
}
