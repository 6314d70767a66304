package replay

import (
	"reflect"
	"testing"
)

func analyzeFixture(t *testing.T, text string) *Analysis {
	t.Helper()
	a, err := Analyze(text, nil)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	return a
}

func twoSides(body string) string {
	return `version="1.16.2"
[scenario]
	id="ladder_duel"
	name="Ladder Duel"
	map_file="2p_den_of_onis.map"
	era="ladder_era"
	[side]
		side="1"
		current_player="alice"
		faction="rebels"
	[/side]
	[side]
		side="2"
		current_player="bob"
		faction="undead"
	[/side]
[/scenario]
[replay]
` + body + `[/replay]
`
}

func TestExplicitVictoryRulePriority(t *testing.T) {
	// An explicit endlevel wins even when a surrender message is present.
	a := analyzeFixture(t, twoSides(`	[command]
		[speak]
			side="1"
			message="alice has surrendered"
		[/speak]
	[/command]
	[command]
		[endlevel]
			result="victory"
			side="2"
		[/endlevel]
	[/command]
`))
	v := a.Victory
	if v.WinnerSide != 2 || v.WinnerName != "bob" {
		t.Fatalf("winner: %+v", v)
	}
	if v.Confidence != ConfidenceHigh || v.DetectedFrom != DetectedFromEndlevelResult || v.ResultType != ResultExplicitVictory {
		t.Fatalf("unexpected victory: %+v", v)
	}
}

func TestResignationInference(t *testing.T) {
	a := analyzeFixture(t, twoSides(`	[command]
		[endlevel]
			result="resign"
			side="1"
		[/endlevel]
	[/command]
`))
	v := a.Victory
	if v.WinnerSide != 2 || v.ResultType != ResultResignation {
		t.Fatalf("expected side 2 by resignation, got %+v", v)
	}
	if v.Confidence != ConfidenceHigh || v.DetectedFrom != DetectedFromEndlevelResign {
		t.Fatalf("unexpected victory: %+v", v)
	}
}

func TestResignationAmbiguousWithThreeSides(t *testing.T) {
	text := `[scenario]
	map_file="3p_triple.map"
	[side]
		side="1"
		current_player="alice"
	[/side]
	[side]
		side="2"
		current_player="bob"
	[/side]
	[side]
		side="3"
		current_player="carol"
	[/side]
[/scenario]
[replay]
	[command]
		[endlevel]
			result="resign"
			side="1"
		[/endlevel]
	[/command]
[/replay]
`
	a := analyzeFixture(t, text)
	v := a.Victory
	if v.ResultType == ResultResignation {
		t.Fatalf("resignation must be skipped for 3+ players, got %+v", v)
	}
	// falls all the way through to the fallback
	if v.ResultType != ResultFallback || v.WinnerSide != 1 || v.Confidence != ConfidenceLow {
		t.Fatalf("expected fallback, got %+v", v)
	}
}

func TestSurrenderMessage(t *testing.T) {
	a := analyzeFixture(t, twoSides(`	[command]
		[speak]
			side="2"
			message="bob has surrendered the game"
		[/speak]
	[/command]
`))
	v := a.Victory
	if v.WinnerSide != 1 || v.WinnerName != "alice" {
		t.Fatalf("winner: %+v", v)
	}
	if v.ResultType != ResultSurrenderMessage || v.Confidence != ConfidenceMedium || v.DetectedFrom != DetectedFromSurrenderMsg {
		t.Fatalf("unexpected victory: %+v", v)
	}
}

func TestSurrenderMatchIsCaseSensitive(t *testing.T) {
	// "SURRENDERED" matches neither literal; the resolver must fall through.
	a := analyzeFixture(t, twoSides(`	[command]
		[speak]
			side="2"
			message="bob has SURRENDERED"
		[/speak]
	[/command]
`))
	if a.Victory.ResultType != ResultFallback {
		t.Fatalf("expected fallback for non-matching casing, got %+v", a.Victory)
	}
}

func TestFallbackFlagsLowConfidence(t *testing.T) {
	a := analyzeFixture(t, twoSides(""))
	v := a.Victory
	if v.WinnerSide != 1 || v.WinnerName != "alice" {
		t.Fatalf("fallback should pick the lowest side, got %+v", v)
	}
	if v.Confidence != ConfidenceLow || v.DetectedFrom != DetectedFromDefault || v.ResultType != ResultFallback {
		t.Fatalf("unexpected victory: %+v", v)
	}
}

func TestTotalitySingleSide(t *testing.T) {
	text := `[scenario]
	map_file="solo.map"
	[side]
		side="4"
		current_player="dave"
	[/side]
[/scenario]
`
	a := analyzeFixture(t, text)
	v := a.Victory
	if v.WinnerSide != 4 || v.WinnerName != "dave" {
		t.Fatalf("resolver must be total, got %+v", v)
	}
}

func TestDeterminism(t *testing.T) {
	text := twoSides(`	[command]
		[speak]
			side="1"
			message="gg, Surrender accepted"
		[/speak]
	[/command]
`)
	a := analyzeFixture(t, text)
	b := analyzeFixture(t, text)
	if !reflect.DeepEqual(a.Victory, b.Victory) {
		t.Fatalf("resolver not deterministic: %+v vs %+v", a.Victory, b.Victory)
	}
}
