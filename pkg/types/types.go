package types

import "sort"

// Outcome is the result of an authentication attempt
type Outcome string

const (
	OutcomeAccepted Outcome = "Accepted"
	OutcomeFailed   Outcome = "Failed"
)

// AuthEvent represents one authentication attempt extracted from a log line
type AuthEvent struct {
	Timestamp     string  `json:"timestamp"`
	Outcome       Outcome `json:"outcome"`
	Account       string  `json:"account"`
	SourceAddress string  `json:"source_address"`
	Raw           string  `json:"raw,omitempty"` // Trimmed original line
}

// Failed reports whether the attempt failed
func (e AuthEvent) Failed() bool {
	return e.Outcome == OutcomeFailed
}

// AlertSignal is emitted once, when a source's failure count first reaches the threshold
type AlertSignal struct {
	SourceAddress string `json:"source_address"`
	Threshold     int    `json:"threshold"`
}

// Report is the read-only summary of an analysis run
type Report struct {
	FailuresBySource map[string]int `json:"failures_by_source"`
	TargetedAccounts map[string]int `json:"targeted_accounts"`
	SkippedLines     int            `json:"skipped_lines"`
	AcceptedEvents   int            `json:"accepted_events"`
	FailedEvents     int            `json:"failed_events"`
	Threshold        int            `json:"threshold"`
	Partial          bool           `json:"partial,omitempty"`
}

// Count pairs a key (source address or account) with a failure count
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// TotalEvents returns the number of lines that parsed into an event
func (r *Report) TotalEvents() int {
	return r.AcceptedEvents + r.FailedEvents
}

// Flagged returns every source whose failure count is at or above the threshold,
// highest count first.
func (r *Report) Flagged() []Count {
	flagged := make([]Count, 0)
	for addr, n := range r.FailuresBySource {
		if n >= r.Threshold {
			flagged = append(flagged, Count{Key: addr, Count: n})
		}
	}
	sortCounts(flagged)
	return flagged
}

// TopAccounts returns up to n targeted accounts, most failures first.
// n <= 0 returns all of them.
func (r *Report) TopAccounts(n int) []Count {
	accounts := make([]Count, 0, len(r.TargetedAccounts))
	for account, c := range r.TargetedAccounts {
		accounts = append(accounts, Count{Key: account, Count: c})
	}
	sortCounts(accounts)
	if n > 0 && len(accounts) > n {
		accounts = accounts[:n]
	}
	return accounts
}

func sortCounts(counts []Count) {
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Key < counts[j].Key
	})
}
