package replay

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/park285/ladder-replay-ingest/internal/wml"
)

// ResolveVictory determines the winner of a replay through an ordered,
// short-circuiting rule chain. Each rule applies only when the previous one
// found no answer, and the fallback always fires, so a winner is always
// produced. The function is pure: identical input yields an identical result.
//
// Rule order:
//  1. [endlevel] result="victory" with a side attribute (HIGH).
//  2. [endlevel] result="resign" with a side attribute, only for exactly two
//     players; the other side wins (HIGH). Skipped otherwise: with three or
//     more sides it is ambiguous which side benefits.
//  3. A [speak] message containing "surrendered" or "Surrender" (exact,
//     case-sensitive substrings); the speaker's opponent wins (MEDIUM).
//     Localized or re-capitalized surrender messages are a known miss.
//  4. The lowest-numbered side wins (LOW). Downstream must flag this for
//     manual confirmation.
func ResolveVictory(root *wml.Section, players []Player) Victory {
	if v, ok := explicitVictory(root, players); ok {
		return v
	}
	if v, ok := resignation(root, players); ok {
		return v
	}
	if v, ok := surrenderMessage(root, players); ok {
		return v
	}
	return fallback(players)
}

func explicitVictory(root *wml.Section, players []Player) (Victory, bool) {
	for _, end := range root.Find("endlevel") {
		if end.Attr("result") != "victory" {
			continue
		}
		side, ok := sideNumber(end)
		if !ok {
			continue
		}
		return Victory{
			WinnerSide:   side,
			WinnerName:   playerName(players, side),
			ResultType:   ResultExplicitVictory,
			DetectedFrom: DetectedFromEndlevelResult,
			Confidence:   ConfidenceHigh,
		}, true
	}
	return Victory{}, false
}

func resignation(root *wml.Section, players []Player) (Victory, bool) {
	if len(players) != 2 {
		return Victory{}, false
	}
	for _, end := range root.Find("endlevel") {
		if end.Attr("result") != "resign" {
			continue
		}
		side, ok := sideNumber(end)
		if !ok {
			continue
		}
		winner, ok := opponent(players, side)
		if !ok {
			continue
		}
		return Victory{
			WinnerSide:   winner.Side,
			WinnerName:   winner.Name,
			ResultType:   ResultResignation,
			DetectedFrom: DetectedFromEndlevelResign,
			Confidence:   ConfidenceHigh,
		}, true
	}
	return Victory{}, false
}

func surrenderMessage(root *wml.Section, players []Player) (Victory, bool) {
	if len(players) != 2 {
		return Victory{}, false
	}
	for _, speak := range root.Find("speak") {
		msg := speak.Attr("message")
		if !strings.Contains(msg, "surrendered") && !strings.Contains(msg, "Surrender") {
			continue
		}
		side, ok := sideNumber(speak)
		if !ok {
			continue
		}
		winner, ok := opponent(players, side)
		if !ok {
			continue
		}
		return Victory{
			WinnerSide:   winner.Side,
			WinnerName:   winner.Name,
			ResultType:   ResultSurrenderMessage,
			DetectedFrom: DetectedFromSurrenderMsg,
			Confidence:   ConfidenceMedium,
		}, true
	}
	return Victory{}, false
}

func fallback(players []Player) Victory {
	side := 1
	name := ""
	for i, p := range players {
		if i == 0 || p.Side < side {
			side = p.Side
			name = p.Name
		}
	}
	if name == "" {
		name = fmt.Sprintf("side_%d", side)
	}
	return Victory{
		WinnerSide:   side,
		WinnerName:   name,
		ResultType:   ResultFallback,
		DetectedFrom: DetectedFromDefault,
		Confidence:   ConfidenceLow,
	}
}

func sideNumber(s *wml.Section) (int, bool) {
	raw, ok := s.LookupAttr("side")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func playerName(players []Player, side int) string {
	for _, p := range players {
		if p.Side == side {
			return p.Name
		}
	}
	return fmt.Sprintf("side_%d", side)
}

func opponent(players []Player, side int) (Player, bool) {
	for _, p := range players {
		if p.Side != side {
			return p, true
		}
	}
	return Player{}, false
}
