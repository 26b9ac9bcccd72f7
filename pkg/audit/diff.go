package audit

import (
	"github.com/Dominik5397/Team-Task-Manager/pkg/task"
)

// Diff compares two snapshots of a task and returns one entry per changed field.
//
// A nil before snapshot means the task was just created; a single Create entry
// is returned and no field comparison happens. Otherwise tracked fields are
// checked in a fixed order: title, description, status, priority, due date,
// assignment. An empty slice means nothing tracked changed.
//
// Entries are returned without ID or timestamp; the store assigns those.
func Diff(before, after *task.Snapshot, actor *task.User) []*Entry {
	if after == nil {
		return nil
	}

	if before == nil {
		entry := newEntry(after.ID, FieldTask, OperationCreate, nil, StringPtr(ValueCreated), actor)
		entry.Note = StringPtr("Task created: " + after.Title)
		return []*Entry{entry}
	}

	var entries []*Entry
	add := func(field string, op OperationKind, oldValue, newValue *string) {
		if equalOptional(oldValue, newValue) {
			return
		}
		entries = append(entries, newEntry(after.ID, field, op, oldValue, newValue, actor))
	}

	add(FieldTitle, OperationTitleChange, StringPtr(before.Title), StringPtr(after.Title))
	add(FieldDescription, OperationDescriptionChange, before.Description, after.Description)
	add(FieldStatus, OperationStatusChange, statusValue(before.Status), statusValue(after.Status))
	add(FieldPriority, OperationPriorityChange, priorityValue(before.Priority), priorityValue(after.Priority))
	add(FieldDueDate, OperationDueDateChange, dueDateValue(before), dueDateValue(after))

	if !sameAssignee(before.Assignee, after.Assignee) {
		op := OperationUnassign
		if after.Assignee != nil {
			op = OperationAssign
		}
		entries = append(entries, newEntry(after.ID, FieldAssignedTo, op,
			assigneeValue(before.Assignee), assigneeValue(after.Assignee), actor))
	}

	return entries
}

// NewDeletionEntry builds the entry recorded when a task is removed
func NewDeletionEntry(snapshot *task.Snapshot, actor *task.User) *Entry {
	entry := newEntry(snapshot.ID, FieldTask, OperationDelete, StringPtr(snapshot.Title), StringPtr(ValueDeleted), actor)
	entry.Note = StringPtr("Task deleted: " + snapshot.Title)
	return entry
}

func newEntry(taskID int64, field string, op OperationKind, oldValue, newValue *string, actor *task.User) *Entry {
	entry := &Entry{
		TaskID:    taskID,
		FieldName: field,
		OldValue:  oldValue,
		NewValue:  newValue,
		Operation: op,
	}
	setActor(entry, actor)
	return entry
}

func setActor(entry *Entry, actor *task.User) {
	if actor == nil {
		return
	}
	id := actor.ID
	entry.ActorID = &id
	entry.ActorName = actor.Username
}

func statusValue(s task.Status) *string {
	if s == "" {
		return nil
	}
	return StringPtr(s.DisplayName())
}

func priorityValue(p task.Priority) *string {
	if p == "" {
		return nil
	}
	return StringPtr(p.DisplayName())
}

func dueDateValue(s *task.Snapshot) *string {
	if s.DueDate == nil {
		return nil
	}
	return StringPtr(task.FormatDate(*s.DueDate))
}

func sameAssignee(a, b *task.User) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

func assigneeValue(u *task.User) *string {
	if u == nil {
		return StringPtr(ValueUnassigned)
	}
	return StringPtr(u.Username)
}
