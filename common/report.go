package common

import (
	"time"
)

// FetchOutcome records the final state of one object retrieval.
type FetchOutcome struct {
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Time      time.Time `json:"time"`
	Status    Status    `json:"status"`
	LocalPath string    `json:"local_path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Err       error     `json:"-"` // typed failure for callers, string above for the report
}

// FrameOutcome records the resample and write result of one fetched granule.
type FrameOutcome struct {
	Name    string    `json:"name"`
	Time    time.Time `json:"time"`
	Path    string    `json:"path,omitempty"` // resolved store path
	Written bool      `json:"written"`
	Skipped bool      `json:"skipped,omitempty"` // timestamp already stored
	Error   string    `json:"error,omitempty"`
}

// DateReport aggregates the outcomes of one acquisition date.
type DateReport struct {
	Date       string         `json:"date"`
	Discovered int            `json:"discovered"`
	Kept       int            `json:"kept"` // after temporal filtering
	Fetches    []FetchOutcome `json:"fetches,omitempty"`
	Frames     []FrameOutcome `json:"frames,omitempty"`
	Error      string         `json:"error,omitempty"` // discovery failure
}

// RunReport is the end-of-run summary of a pipeline execution.
type RunReport struct {
	Product    string       `json:"product"`
	Channel    string       `json:"channel,omitempty"`
	Mesoregion string       `json:"mesoregion,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	Duration   float64      `json:"duration_seconds"`
	Dates      []DateReport `json:"dates"`
}

// Discovered sums the discovered references over all dates.
func (r *RunReport) Discovered() int {
	n := 0
	for _, d := range r.Dates {
		n += d.Discovered
	}
	return n
}

// Kept sums the references retained by the temporal filter over all dates.
func (r *RunReport) Kept() int {
	n := 0
	for _, d := range r.Dates {
		n += d.Kept
	}
	return n
}

// FetchCounts tallies the fetch outcomes of the whole run by status.
func (r *RunReport) FetchCounts() map[Status]int {
	counts := map[Status]int{}
	for _, d := range r.Dates {
		for _, f := range d.Fetches {
			counts[f.Status]++
		}
	}
	return counts
}

// Written counts the frames persisted over the whole run.
func (r *RunReport) Written() int {
	n := 0
	for _, d := range r.Dates {
		for _, f := range d.Frames {
			if f.Written {
				n++
			}
		}
	}
	return n
}

// Skipped counts the duplicate frames skipped over the whole run.
func (r *RunReport) Skipped() int {
	n := 0
	for _, d := range r.Dates {
		for _, f := range d.Frames {
			if f.Skipped {
				n++
			}
		}
	}
	return n
}

// FrameFailures counts the granules that failed to resample or persist.
func (r *RunReport) FrameFailures() int {
	n := 0
	for _, d := range r.Dates {
		for _, f := range d.Frames {
			if f.Error != "" {
				n++
			}
		}
	}
	return n
}
