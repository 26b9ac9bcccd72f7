package analytics

import (
	"context"
	"time"

	"github.com/Dominik5397/Team-Task-Manager/pkg/task"
)

// Counts is a read-only view of the live task and user tables.
// Implementations answer in aggregate and never load whole collections.
type Counts interface {
	// Tasks returns totals and breakdowns; overdue is judged against today
	Tasks(ctx context.Context, today time.Time) (*TaskCounts, error)

	// Users returns user totals and per-user task counts
	Users(ctx context.Context) (*UserCounts, error)

	// StatusPriority cross-tabulates tasks keyed by "{status}-{priority}"
	StatusPriority(ctx context.Context) (map[string]int64, error)

	// TaskTitles resolves titles of the given tasks; unknown ids are omitted
	TaskTitles(ctx context.Context, ids []int64) (map[int64]string, error)
}

// TaskCounts holds live task totals
type TaskCounts struct {
	Total      int64
	Completed  int64
	Active     int64
	Overdue    int64
	Unassigned int64
	ByStatus   map[task.Status]int64
	ByPriority map[task.Priority]int64
}

// UserCounts holds live user totals
type UserCounts struct {
	Total     int64
	WithTasks int64

	// Ordered by Tasks descending, then user id
	TasksPerUser     []UserTaskCount
	CompletedPerUser []UserTaskCount
}

// UserTaskCount is the number of tasks assigned to one user
type UserTaskCount struct {
	UserID   int64
	Username string
	Tasks    int64
}

// StatusPriorityKey is the cross-tabulation key of a status and priority
func StatusPriorityKey(s task.Status, p task.Priority) string {
	return string(s) + "-" + string(p)
}
