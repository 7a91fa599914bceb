// Package runstatus derives a run's aggregate status from its job counts.
// The run's status column is a cache of this function, never an independent
// source of truth; callers recompute it after every job mutation.
package runstatus

import (
	"github.com/yungbote/daybrief-backend/internal/types"
)

type Counts struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

func (c Counts) Total() int {
	return c.Queued + c.Running + c.Succeeded + c.Failed + c.Cancelled
}

func Aggregate(c Counts) types.RunStatus {
	if c.Running > 0 {
		return types.RunStatusRunning
	}
	if c.Queued > 0 {
		if c.Succeeded+c.Failed+c.Cancelled > 0 {
			return types.RunStatusRunning
		}
		return types.RunStatusQueued
	}
	if c.Failed > 0 {
		return types.RunStatusFailed
	}
	if c.Succeeded > 0 {
		return types.RunStatusCompleted
	}
	// No jobs, or all cancelled.
	return types.RunStatusQueued
}

// FromJobs tallies job statuses into Counts.
func FromJobs(jobs []*types.DayJob) Counts {
	var c Counts
	for _, j := range jobs {
		switch j.Status {
		case types.JobStatusQueued:
			c.Queued++
		case types.JobStatusRunning:
			c.Running++
		case types.JobStatusSucceeded:
			c.Succeeded++
		case types.JobStatusFailed:
			c.Failed++
		case types.JobStatusCancelled:
			c.Cancelled++
		}
	}
	return c
}
