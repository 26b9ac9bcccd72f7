package task

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the workflow state of a task
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// Statuses lists every status in declaration order
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// DisplayName returns the human readable label for the status
func (s Status) DisplayName() string {
	switch s {
	case StatusTodo:
		return "To Do"
	case StatusInProgress:
		return "In Progress"
	case StatusDone:
		return "Done"
	default:
		return string(s)
	}
}

// IsTerminal reports whether the status marks a completed task
func (s Status) IsTerminal() bool {
	return s == StatusDone
}

// ParseStatus converts user input into a Status
func ParseStatus(value string) (Status, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(value), " ", "_")) {
	case "TODO", "TO_DO":
		return StatusTodo, nil
	case "IN_PROGRESS", "INPROGRESS":
		return StatusInProgress, nil
	case "DONE":
		return StatusDone, nil
	}
	for _, s := range Statuses {
		if strings.EqualFold(s.DisplayName(), value) {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown task status: %s", value)
}

// Priority represents how urgent a task is
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Priorities lists every priority from lowest to highest
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh}

// DisplayName returns the human readable label for the priority
func (p Priority) DisplayName() string {
	switch p {
	case PriorityLow:
		return "Low"
	case PriorityMedium:
		return "Medium"
	case PriorityHigh:
		return "High"
	default:
		return string(p)
	}
}

// Level returns the numeric weight of the priority (0 when unknown)
func (p Priority) Level() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	default:
		return 0
	}
}

// IsHigherThan reports whether p outranks other
func (p Priority) IsHigherThan(other Priority) bool {
	return p.Level() > other.Level()
}

// ParsePriority converts user input into a Priority
func ParsePriority(value string) (Priority, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "LOW":
		return PriorityLow, nil
	case "MEDIUM":
		return PriorityMedium, nil
	case "HIGH":
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("unknown task priority: %s", value)
}

// User is the subset of a user record the change log needs
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Snapshot holds the tracked fields of a task at one instant.
// Empty Status/Priority and nil pointers mean the value is absent.
type Snapshot struct {
	ID          int64      `json:"id"`
	Title       string     `json:"title"`
	Description *string    `json:"description,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Priority    Priority   `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Assignee    *User      `json:"assignee,omitempty"`
}

// AssigneeID returns the assignee id or nil when unassigned
func (s *Snapshot) AssigneeID() *int64 {
	if s.Assignee == nil {
		return nil
	}
	id := s.Assignee.ID
	return &id
}

// IsOverdue reports whether the task is past its due date and not done
func (s *Snapshot) IsOverdue(today time.Time) bool {
	if s.DueDate == nil || s.Status.IsTerminal() {
		return false
	}
	return FormatDate(*s.DueDate) < FormatDate(today)
}

// DateLayout is the calendar-date format used for due dates
const DateLayout = "2006-01-02"

// FormatDate renders a due date as a calendar date
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}
