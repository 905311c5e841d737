package db

import "time"

// Strategy is a registered trading strategy row.
type Strategy struct {
	ID             string
	Name           string
	Pair           string
	Venue          string
	State          string
	PerformancePct float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Outcome is one settled ledger entry.
type Outcome struct {
	Seq         int64
	ID          string
	IntentID    string
	StrategyID  string
	Pair        string
	Side        string
	Price       float64
	Qty         float64
	FillPrice   float64
	State       string
	Reason      string
	CompletedAt time.Time
}

// ActivityRecord is one persisted activity log entry.
type ActivityRecord struct {
	Seq       int64
	Level     string
	Message   string
	CreatedAt time.Time
}

// User is an API user for the protected management surface.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
