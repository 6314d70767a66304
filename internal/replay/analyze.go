package replay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/ladder-replay-ingest/internal/rules"
	"github.com/park285/ladder-replay-ingest/internal/wml"
)

// Analyze is the stage-2 parse: it builds the full section tree and extracts
// scenario metadata, the addon list, the ordered players and the victory
// result. catalog may be nil; faction display names then fall back to the
// raw faction id.
func Analyze(text string, catalog *rules.Catalog) (*Analysis, error) {
	root, err := wml.Parse(text)
	if err != nil {
		return nil, err
	}
	a := &Analysis{
		Metadata: extractMetadata(root),
		Addons:   extractAddons(root),
		Players:  extractPlayers(root, catalog),
	}
	// Resolver runs last: it needs the player count to decide resignation
	// eligibility.
	a.Victory = ResolveVictory(root, a.Players)
	return a, nil
}

// extractMetadata reads the authoritative scenario section. Snapshots of the
// same tag recur once per turn; the last occurrence supersedes the rest.
func extractMetadata(root *wml.Section) Metadata {
	md := Metadata{Version: root.Attr("version")}
	if md.Version == "" {
		md.Version = "unknown"
	}
	scen := root.Last("scenario")
	if scen == nil {
		scen = root.Last("replay_start")
	}
	if scen != nil {
		md.ScenarioID = scen.Attr("id")
		md.ScenarioName = scen.Attr("name")
		md.MapFile = scen.Attr("map_file")
		md.EraID = scen.Attr("era")
	}
	if md.EraID == "" {
		if era := root.Last("era"); era != nil {
			md.EraID = era.Attr("id")
		}
	}
	return md
}

func extractAddons(root *wml.Section) []Addon {
	var out []Addon
	for _, a := range root.Find("addon") {
		out = append(out, Addon{
			ID:       a.Attr("id"),
			Version:  a.Attr("version"),
			Required: parseFlag(a.Attr("required")),
		})
	}
	return out
}

// extractPlayers collects the ordered [side] sections. Sides recur in every
// per-turn snapshot, so only the authoritative scenario section is consulted.
// A declared numeric side attribute wins; otherwise the positional index+1 is
// used. Controller and leader fields default to placeholders when absent.
func extractPlayers(root *wml.Section, catalog *rules.Catalog) []Player {
	scen := root.Last("scenario")
	if scen == nil {
		scen = root.Last("replay_start")
	}
	var sides []*wml.Section
	if scen != nil {
		sides = scen.All("side")
	}
	if len(sides) == 0 {
		sides = root.All("side")
	}
	out := make([]Player, 0, len(sides))
	for i, s := range sides {
		side := i + 1
		if raw, ok := s.LookupAttr("side"); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n > 0 {
				side = n
			}
		}
		p := Player{
			Side:        side,
			Name:        firstNonEmpty(s.Attr("current_player"), s.Attr("name"), s.Attr("id")),
			FactionID:   s.Attr("faction"),
			FactionName: s.Attr("faction_name"),
			LeaderID:    firstNonEmpty(s.Attr("leader"), "unknown"),
			LeaderType:  firstNonEmpty(s.Attr("type"), "unknown"),
			Controller:  firstNonEmpty(s.Attr("controller"), "human"),
		}
		if p.Name == "" {
			p.Name = fmt.Sprintf("side_%d", side)
		}
		if p.FactionName == "" {
			p.FactionName = catalog.FactionName(p.FactionID)
		}
		out = append(out, p)
	}
	return out
}

func parseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "true", "1":
		return true
	default:
		return false
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
