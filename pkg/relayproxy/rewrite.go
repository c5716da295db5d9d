package relayproxy

import (
	"bufio"
	"strings"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/manifestcache"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/urlutil"
)

// rewriteManifest routes every URI in an HLS manifest through the relay
// listener, so players that fetched the manifest here also fetch its
// variants, keys, and segments here. Relative entries resolve against the
// manifest's own URL before prefixing. DASH and unrecognized bodies pass
// through unchanged: MPD URLs resolve against BaseURL elements the player
// computes itself.
func rewriteManifest(body, manifestURL, relayBase string) string {
	switch manifestcache.Classify(body) {
	case manifestcache.KindMaster, manifestcache.KindMedia:
	default:
		return body
	}

	var result strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(body))

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.TrimSpace(line) == "":
			result.WriteString(line)
		case strings.HasPrefix(line, "#"):
			// Tags like #EXT-X-KEY and #EXT-X-MAP carry their own URI.
			if strings.Contains(line, "URI=") {
				line = rewriteURITag(line, manifestURL, relayBase)
			}
			result.WriteString(line)
		default:
			result.WriteString(relayURL(line, manifestURL, relayBase))
		}
		result.WriteString("\n")
	}

	return result.String()
}

// rewriteURITag rewrites the URI attribute in an HLS tag line.
func rewriteURITag(line, manifestURL, relayBase string) string {
	start := strings.Index(line, `URI="`)
	if start == -1 {
		return line
	}
	start += len(`URI="`)

	end := strings.Index(line[start:], `"`)
	if end == -1 {
		return line
	}

	uri := line[start : start+end]
	return line[:start] + relayURL(uri, manifestURL, relayBase) + line[start+end:]
}

// relayURL resolves a manifest entry and addresses it through the relay
// listener in the /<absolute-url> form the listener accepts.
func relayURL(raw, manifestURL, relayBase string) string {
	return relayBase + "/" + urlutil.ResolveURL(raw, manifestURL)
}
