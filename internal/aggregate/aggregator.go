// Package aggregate counts failed authentication attempts per source address
// and per targeted account over a single pass of a log.
package aggregate

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// Aggregator holds the counters of one analysis run. It is not safe for
// concurrent use; the pipeline feeds it one line at a time.
type Aggregator struct {
	threshold int

	failuresBySource map[string]int
	targetedAccounts map[string]int
	alertedSources   map[string]struct{}

	skippedLines   int
	acceptedEvents int
	failedEvents   int
}

// New creates an empty aggregator. threshold must be at least 1.
func New(threshold int) *Aggregator {
	if threshold < 1 {
		panic(fmt.Sprintf("aggregate: threshold must be >= 1, got %d", threshold))
	}

	return &Aggregator{
		threshold:        threshold,
		failuresBySource: make(map[string]int),
		targetedAccounts: make(map[string]int),
		alertedSources:   make(map[string]struct{}),
	}
}

// Threshold returns the configured failure threshold
func (a *Aggregator) Threshold() int {
	return a.threshold
}

// Ingest records one event. It returns an alert, with true, only on the
// failure that brings a source's count to exactly the threshold for the
// first time.
func (a *Aggregator) Ingest(evt types.AuthEvent) (types.AlertSignal, bool) {
	if !evt.Failed() {
		a.acceptedEvents++
		return types.AlertSignal{}, false
	}

	a.failedEvents++
	a.failuresBySource[evt.SourceAddress]++
	a.targetedAccounts[evt.Account]++

	if a.failuresBySource[evt.SourceAddress] != a.threshold {
		return types.AlertSignal{}, false
	}
	if _, alerted := a.alertedSources[evt.SourceAddress]; alerted {
		return types.AlertSignal{}, false
	}

	a.alertedSources[evt.SourceAddress] = struct{}{}
	return types.AlertSignal{
		SourceAddress: evt.SourceAddress,
		Threshold:     a.threshold,
	}, true
}

// RecordSkipped counts a line that did not parse into an event
func (a *Aggregator) RecordSkipped() {
	a.skippedLines++
}

// Failures returns the current failure count for a source
func (a *Aggregator) Failures(sourceAddress string) int {
	return a.failuresBySource[sourceAddress]
}

// TrackedSources returns the number of sources with at least one failure
func (a *Aggregator) TrackedSources() int {
	return len(a.failuresBySource)
}

// Alerted reports whether an alert has already fired for a source
func (a *Aggregator) Alerted(sourceAddress string) bool {
	_, ok := a.alertedSources[sourceAddress]
	return ok
}

// Snapshot returns a copy of the current state. It does not mutate the
// aggregator, so calling it twice without ingesting yields equal reports.
func (a *Aggregator) Snapshot() *types.Report {
	return &types.Report{
		FailuresBySource: copyCounts(a.failuresBySource),
		TargetedAccounts: copyCounts(a.targetedAccounts),
		SkippedLines:     a.skippedLines,
		AcceptedEvents:   a.acceptedEvents,
		FailedEvents:     a.failedEvents,
		Threshold:        a.threshold,
	}
}

func copyCounts(src map[string]int) map[string]int {
	dst := make(map[string]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
