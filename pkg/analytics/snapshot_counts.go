package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
	"github.com/Dominik5397/Team-Task-Manager/pkg/task"
)

var (
	_ audit.SnapshotObserver = (*SnapshotCounts)(nil)
	_ audit.ActorObserver    = (*SnapshotCounts)(nil)
)

// SnapshotCounts keeps live counts in memory from the snapshots recorded by
// the change log. It implements audit.SnapshotObserver and audit.ActorObserver,
// so a service without a task database can still report live totals. Users are
// known once they are assigned a task or record a change.
type SnapshotCounts struct {
	mu    sync.RWMutex
	tasks map[int64]task.Snapshot
	users map[int64]string
}

// NewSnapshotCounts creates empty counts
func NewSnapshotCounts() *SnapshotCounts {
	return &SnapshotCounts{
		tasks: make(map[int64]task.Snapshot),
		users: make(map[int64]string),
	}
}

// ObserveSnapshot stores after, or forgets before when after is nil
func (c *SnapshotCounts) ObserveSnapshot(before, after *task.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if after == nil {
		if before != nil {
			delete(c.tasks, before.ID)
		}
		return
	}
	c.tasks[after.ID] = *after
	if after.Assignee != nil {
		c.users[after.Assignee.ID] = after.Assignee.Username
	}
}

// ObserveActor registers a user that recorded a change, who may have no tasks
func (c *SnapshotCounts) ObserveActor(u task.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = u.Username
}

// Tasks returns task totals and breakdowns
func (c *SnapshotCounts) Tasks(ctx context.Context, today time.Time) (*TaskCounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := &TaskCounts{
		ByStatus:   make(map[task.Status]int64),
		ByPriority: make(map[task.Priority]int64),
	}
	for _, t := range c.tasks {
		counts.Total++
		if t.Status.IsTerminal() {
			counts.Completed++
		} else if t.Status != "" {
			counts.Active++
		}
		if t.IsOverdue(today) && t.Status != "" {
			counts.Overdue++
		}
		if t.Assignee == nil {
			counts.Unassigned++
		}
		if t.Status != "" {
			counts.ByStatus[t.Status]++
		}
		if t.Priority != "" {
			counts.ByPriority[t.Priority]++
		}
	}
	return counts, nil
}

// Users returns user totals and per-user task counts
func (c *SnapshotCounts) Users(ctx context.Context) (*UserCounts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	assigned := make(map[int64]int64)
	completed := make(map[int64]int64)
	for _, t := range c.tasks {
		if t.Assignee == nil {
			continue
		}
		assigned[t.Assignee.ID]++
		if t.Status.IsTerminal() {
			completed[t.Assignee.ID]++
		}
	}

	return &UserCounts{
		Total:            int64(len(c.users)),
		WithTasks:        int64(len(assigned)),
		TasksPerUser:     c.ranked(assigned),
		CompletedPerUser: c.ranked(completed),
	}, nil
}

// ranked orders per-user counts by count descending, then user id
func (c *SnapshotCounts) ranked(counts map[int64]int64) []UserTaskCount {
	out := make([]UserTaskCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, UserTaskCount{UserID: id, Username: c.users[id], Tasks: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tasks != out[j].Tasks {
			return out[i].Tasks > out[j].Tasks
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// StatusPriority cross-tabulates tasks by status and priority
func (c *SnapshotCounts) StatusPriority(ctx context.Context) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64)
	for _, t := range c.tasks {
		if t.Status == "" || t.Priority == "" {
			continue
		}
		out[StatusPriorityKey(t.Status, t.Priority)]++
	}
	return out, nil
}

// TaskTitles resolves the titles of ids
func (c *SnapshotCounts) TaskTitles(ctx context.Context, ids []int64) (map[int64]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[int64]string, len(ids))
	for _, id := range ids {
		if t, ok := c.tasks[id]; ok {
			out[id] = t.Title
		}
	}
	return out, nil
}
