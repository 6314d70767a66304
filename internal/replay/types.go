package replay

// Confidence labels how directly a victory determination was evidenced.
type Confidence string

const (
	ConfidenceHigh   Confidence = "HIGH"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceLow    Confidence = "LOW"
)

// ResultType classifies how a match ended.
type ResultType string

const (
	ResultExplicitVictory  ResultType = "explicit_victory"
	ResultResignation      ResultType = "resignation"
	ResultSurrenderMessage ResultType = "surrender_message"
	ResultFallback         ResultType = "fallback"
)

// Detection sources for a victory result.
const (
	DetectedFromEndlevelResult = "endlevel_result"
	DetectedFromEndlevelResign = "endlevel_resign"
	DetectedFromSurrenderMsg   = "surrender_message"
	DetectedFromDefault        = "default_assumption"
)

// QuickCheckResult is the stage-1 classification of a replay.
type QuickCheckResult struct {
	HasTrackedAddon bool
	AddonID         string
	Version         string
	EraID           string
}

// Metadata holds the authoritative scenario facts of a replay.
type Metadata struct {
	Version      string
	ScenarioID   string
	ScenarioName string
	MapFile      string
	EraID        string
}

// Addon is one entry of the replay's addon list.
type Addon struct {
	ID       string
	Version  string
	Required bool
}

// Player is one declared side of the game.
type Player struct {
	Side        int
	Name        string
	FactionID   string
	FactionName string
	LeaderID    string
	LeaderType  string
	Controller  string
}

// Victory is the resolved outcome. Always fully populated; the resolver is a
// total function.
type Victory struct {
	WinnerSide   int
	WinnerName   string
	ResultType   ResultType
	DetectedFrom string
	Confidence   Confidence
}

// Analysis is the stage-2 output consumed by the match materializer.
type Analysis struct {
	Metadata Metadata
	Addons   []Addon
	Players  []Player
	Victory  Victory
}
