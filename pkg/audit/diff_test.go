package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dominik5397/Team-Task-Manager/pkg/task"
)

func baseSnapshot() *task.Snapshot {
	return &task.Snapshot{
		ID:       7,
		Title:    "Write docs",
		Status:   task.StatusTodo,
		Priority: task.PriorityMedium,
	}
}

func TestDiff_Create(t *testing.T) {
	actor := &task.User{ID: 1, Username: "alice"}
	after := baseSnapshot()

	entries := Diff(nil, after, actor)

	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, OperationCreate, e.Operation)
	assert.Equal(t, int64(7), e.TaskID)
	assert.Equal(t, FieldTask, e.FieldName)
	assert.Nil(t, e.OldValue)
	assert.Equal(t, "created", *e.NewValue)
	assert.Equal(t, "Task created: Write docs", e.Describe())
	require.NotNil(t, e.ActorID)
	assert.Equal(t, int64(1), *e.ActorID)
	assert.Equal(t, "alice", e.ActorName)
}

func TestDiff_NoChanges(t *testing.T) {
	before := baseSnapshot()
	after := baseSnapshot()

	assert.Empty(t, Diff(before, after, nil))
}

func TestDiff_NilAfter(t *testing.T) {
	assert.Nil(t, Diff(baseSnapshot(), nil, nil))
}

func TestDiff_StatusChange(t *testing.T) {
	before := baseSnapshot()
	after := baseSnapshot()
	after.Status = task.StatusInProgress

	entries := Diff(before, after, &task.User{ID: 2, Username: "bob"})

	require.Len(t, entries, 1)
	assert.Equal(t, OperationStatusChange, entries[0].Operation)
	assert.Equal(t, FieldStatus, entries[0].FieldName)
	assert.Equal(t, "To Do", *entries[0].OldValue)
	assert.Equal(t, "In Progress", *entries[0].NewValue)
}

func TestDiff_FieldOrder(t *testing.T) {
	due := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	before := baseSnapshot()
	after := baseSnapshot()
	after.Title = "Write better docs"
	after.Description = StringPtr("with examples")
	after.Status = task.StatusDone
	after.Priority = task.PriorityHigh
	after.DueDate = &due
	after.Assignee = &task.User{ID: 3, Username: "carol"}

	entries := Diff(before, after, nil)

	require.Len(t, entries, 6)
	var fields []string
	for _, e := range entries {
		fields = append(fields, e.FieldName)
		assert.Nil(t, e.ActorID)
	}
	assert.Equal(t, []string{FieldTitle, FieldDescription, FieldStatus, FieldPriority, FieldDueDate, FieldAssignedTo}, fields)

	assert.Nil(t, entries[1].OldValue)
	assert.Equal(t, "with examples", *entries[1].NewValue)
	assert.Equal(t, "Medium", *entries[3].OldValue)
	assert.Equal(t, "High", *entries[3].NewValue)
	assert.Nil(t, entries[4].OldValue)
	assert.Equal(t, "2024-03-01", *entries[4].NewValue)
	assert.Equal(t, OperationAssign, entries[5].Operation)
	assert.Equal(t, "unassigned", *entries[5].OldValue)
	assert.Equal(t, "carol", *entries[5].NewValue)
}

func TestDiff_Assignment(t *testing.T) {
	alice := &task.User{ID: 1, Username: "alice"}
	bob := &task.User{ID: 2, Username: "bob"}

	t.Run("reassign", func(t *testing.T) {
		before := baseSnapshot()
		before.Assignee = alice
		after := baseSnapshot()
		after.Assignee = bob

		entries := Diff(before, after, nil)
		require.Len(t, entries, 1)
		assert.Equal(t, OperationAssign, entries[0].Operation)
		assert.Equal(t, "alice", *entries[0].OldValue)
		assert.Equal(t, "bob", *entries[0].NewValue)
	})

	t.Run("unassign", func(t *testing.T) {
		before := baseSnapshot()
		before.Assignee = bob
		after := baseSnapshot()

		entries := Diff(before, after, nil)
		require.Len(t, entries, 1)
		assert.Equal(t, OperationUnassign, entries[0].Operation)
		assert.Equal(t, "bob", *entries[0].OldValue)
		assert.Equal(t, "unassigned", *entries[0].NewValue)
		assert.Equal(t, "Task unassigned from: bob", entries[0].Describe())
	})

	t.Run("same assignee by id", func(t *testing.T) {
		before := baseSnapshot()
		before.Assignee = &task.User{ID: 1, Username: "alice"}
		after := baseSnapshot()
		after.Assignee = &task.User{ID: 1, Username: "alice.renamed"}

		assert.Empty(t, Diff(before, after, nil))
	})
}

func TestDiff_DescriptionCleared(t *testing.T) {
	before := baseSnapshot()
	before.Description = StringPtr("old")
	after := baseSnapshot()

	entries := Diff(before, after, nil)
	require.Len(t, entries, 1)
	assert.Equal(t, OperationDescriptionChange, entries[0].Operation)
	assert.Equal(t, "old", *entries[0].OldValue)
	assert.Nil(t, entries[0].NewValue)
}

func TestNewDeletionEntry(t *testing.T) {
	snap := baseSnapshot()
	e := NewDeletionEntry(snap, &task.User{ID: 9, Username: "root"})

	assert.Equal(t, OperationDelete, e.Operation)
	assert.Equal(t, FieldTask, e.FieldName)
	assert.Equal(t, "Write docs", *e.OldValue)
	assert.Equal(t, "deleted", *e.NewValue)
	assert.Equal(t, "Task deleted: Write docs", e.Describe())
	assert.Equal(t, int64(9), *e.ActorID)
}
