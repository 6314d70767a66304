package domain

import "time"

// ParseStatus represents a replay record lifecycle state.
// Transitions are one-directional: pending → parsing → parsed | error.
type ParseStatus string

const (
	StatusPending ParseStatus = "pending"
	StatusParsing ParseStatus = "parsing"
	StatusParsed  ParseStatus = "parsed"
	StatusError   ParseStatus = "error"
)

// ReplayRecord is a detected replay file tracked by the ingestion pipeline.
type ReplayRecord struct {
	ID                 int64
	Filename           string
	Path               string
	DetectedAt         time.Time
	FileWriteClosedAt  time.Time
	ParseStatus        ParseStatus
	ParsingStartedAt   time.Time
	ParsingCompletedAt time.Time
	ParseErrorMessage  string
	MatchID            string
	NeedsReview        bool
}

// Match is the persisted outcome of a tracked ladder replay.
type Match struct {
	MatchID      string
	ReplayID     int64
	ScenarioID   string
	ScenarioName string
	MapFile      string
	EraID        string
	Version      string
	WinnerSide   int
	WinnerUserID int64
	LoserUserID  int64
	WinnerName   string
	LoserName    string
	ResultType   string
	DetectedFrom string
	Confidence   string
	RatingDelta  int
	NeedsReview  bool
	CreatedAt    time.Time
}
