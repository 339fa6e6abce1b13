package radiology

import "github.com/bristolpark/hmis/internal/platform/workflow"

var TestLineMachine = workflow.New("radiology_test", StatusPending, map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}, StatusCompleted, StatusCancelled)

// RequestMachine allows pending -> completed for a request whose remaining
// open lines were cancelled after the others finished.
var RequestMachine = workflow.New("radiology_request", StatusPending, map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}, StatusCompleted, StatusCancelled)

// aggregateStatus derives the request status from its lines. Cancelled
// lines are ignored; a request whose lines are all cancelled is cancelled.
// current is returned when the lines do not decide.
func aggregateStatus(lines []TestLine, current Status) Status {
	open, inProgress, completed := 0, 0, 0
	for _, l := range lines {
		switch l.Status {
		case StatusCancelled:
			continue
		case StatusInProgress:
			inProgress++
		case StatusCompleted:
			completed++
		}
		open++
	}
	switch {
	case open == 0 && len(lines) > 0:
		return StatusCancelled
	case open > 0 && completed == open:
		return StatusCompleted
	case open > 0 && inProgress+completed == open:
		return StatusInProgress
	}
	return current
}
