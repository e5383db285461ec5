package models

import "time"

// User is a person who talked to the bot
type User struct {
	ID        int64
	Username  string
	FirstName string
	FirstSeen time.Time
}

// FlowOutcome records how a session generation flow ended
type FlowOutcome struct {
	UserID  int64
	Backend string
	Kind    string
	Outcome string
	At      time.Time
}

// OutcomeStat is the number of flows that ended with Outcome
type OutcomeStat struct {
	Outcome string
	Count   int
}
