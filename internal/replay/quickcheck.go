package replay

import "strings"

// QuickCheck decides tracked-addon membership with a single pass over the
// decompressed text, without building a section tree. This keeps stage 1
// sub-second even on large replays; only replays that pass proceed to the
// full analyzer. Lines are split without a length limit: replay bodies carry
// arbitrarily long attribute lines and an addon block may follow one. Missing
// optional fields never fail: version defaults to "unknown" and era to "".
func QuickCheck(text string, trackedAddonIDs []string) QuickCheckResult {
	res := QuickCheckResult{Version: "unknown"}
	tracked := make(map[string]bool, len(trackedAddonIDs))
	for _, id := range trackedAddonIDs {
		if s := strings.TrimSpace(id); s != "" {
			tracked[s] = true
		}
	}

	inAddon := false
	rest := text
	for rest != "" {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		line = strings.TrimSpace(line)
		switch {
		case line == "[addon]":
			inAddon = true
		case line == "[/addon]":
			inAddon = false
		case inAddon && strings.HasPrefix(line, "id="):
			if id := quotedValue(line); tracked[id] {
				res.HasTrackedAddon = true
				res.AddonID = id
			}
		case !inAddon && res.Version == "unknown" && strings.HasPrefix(line, "version="):
			if v := quotedValue(line); v != "" {
				res.Version = v
			}
		case !inAddon && res.EraID == "" && (strings.HasPrefix(line, "era=") || strings.HasPrefix(line, "era_id=")):
			res.EraID = quotedValue(line)
		}
	}
	return res
}

// quotedValue extracts the raw string between the first pair of double quotes
// on an attribute line. Best effort: "" when no quoted value is present.
func quotedValue(line string) string {
	start := strings.Index(line, "\"")
	if start < 0 {
		return ""
	}
	rest := line[start+1:]
	end := strings.Index(rest, "\"")
	if end < 0 {
		return ""
	}
	return rest[:end]
}
