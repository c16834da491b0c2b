package rewriter

import (
	"regexp"
	"strings"
)

var bodyRe = regexp.MustCompile(`(?s)<body>(.*?)</body>`)

// ExtractMessageBody pulls the text out of a <message>'s <body> element,
// unescaping the handful of XML entities the client actually emits. It
// returns false if no body element is present.
func ExtractMessageBody(chunk []byte) (string, bool) {
	m := bodyRe.FindSubmatch(chunk)
	if m == nil {
		return "", false
	}
	return unescapeXMLText(string(m[1])), true
}

func unescapeXMLText(s string) string {
	replacer := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&apos;", "'",
		"&quot;", "\"",
	)
	return replacer.Replace(s)
}
