package audit

import (
	"fmt"
	"strings"
	"time"
)

// OperationKind represents the category of a recorded change
type OperationKind string

const (
	// Lifecycle operations
	OperationCreate OperationKind = "CREATE"
	OperationDelete OperationKind = "DELETE"

	// Assignment operations
	OperationAssign   OperationKind = "ASSIGN"
	OperationUnassign OperationKind = "UNASSIGN"

	// Field update operations
	OperationUpdate            OperationKind = "UPDATE"
	OperationStatusChange      OperationKind = "STATUS_CHANGE"
	OperationPriorityChange    OperationKind = "PRIORITY_CHANGE"
	OperationDueDateChange     OperationKind = "DUE_DATE_CHANGE"
	OperationTitleChange       OperationKind = "TITLE_CHANGE"
	OperationDescriptionChange OperationKind = "DESCRIPTION_CHANGE"
)

// OperationKinds lists every operation kind in declaration order.
// Ties in "most frequent" rankings resolve to the earlier kind in this list.
var OperationKinds = []OperationKind{
	OperationCreate,
	OperationUpdate,
	OperationDelete,
	OperationAssign,
	OperationUnassign,
	OperationStatusChange,
	OperationPriorityChange,
	OperationDueDateChange,
	OperationTitleChange,
	OperationDescriptionChange,
}

// Category groups operation kinds into disjoint families
type Category string

const (
	CategoryLifecycle   Category = "lifecycle"
	CategoryAssignment  Category = "assignment"
	CategoryFieldUpdate Category = "field-update"
)

// Label returns the human readable name of the operation
func (k OperationKind) Label() string {
	switch k {
	case OperationCreate:
		return "Create"
	case OperationUpdate:
		return "Update"
	case OperationDelete:
		return "Delete"
	case OperationAssign:
		return "Assign"
	case OperationUnassign:
		return "Unassign"
	case OperationStatusChange:
		return "Status Change"
	case OperationPriorityChange:
		return "Priority Change"
	case OperationDueDateChange:
		return "Due Date Change"
	case OperationTitleChange:
		return "Title Change"
	case OperationDescriptionChange:
		return "Description Change"
	default:
		return string(k)
	}
}

// DefaultDescription returns a generic sentence for the operation
func (k OperationKind) DefaultDescription() string {
	switch k {
	case OperationCreate:
		return "Task was created"
	case OperationUpdate:
		return "Task was updated"
	case OperationDelete:
		return "Task was deleted"
	case OperationAssign:
		return "Task was assigned to a user"
	case OperationUnassign:
		return "Task was unassigned from a user"
	case OperationStatusChange:
		return "Task status was changed"
	case OperationPriorityChange:
		return "Task priority was changed"
	case OperationDueDateChange:
		return "Task due date was changed"
	case OperationTitleChange:
		return "Task title was changed"
	case OperationDescriptionChange:
		return "Task description was changed"
	default:
		return "Task was changed"
	}
}

// Category returns the family the operation belongs to
func (k OperationKind) Category() Category {
	switch k {
	case OperationCreate, OperationDelete:
		return CategoryLifecycle
	case OperationAssign, OperationUnassign:
		return CategoryAssignment
	default:
		return CategoryFieldUpdate
	}
}

// IsValid reports whether k is one of the declared kinds
func (k OperationKind) IsValid() bool {
	for _, known := range OperationKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k OperationKind) IsFieldUpdate() bool { return k.Category() == CategoryFieldUpdate }
func (k OperationKind) IsAssignment() bool  { return k.Category() == CategoryAssignment }
func (k OperationKind) IsLifecycle() bool   { return k.Category() == CategoryLifecycle }

// ParseOperationKind converts free text into an OperationKind.
// It accepts enum names in any case ("status_change") and labels ("Status Change").
// Unrecognized input falls back to OperationUpdate instead of failing.
func ParseOperationKind(value string) OperationKind {
	if kind, ok := LookupOperationKind(value); ok {
		return kind
	}
	return OperationUpdate
}

// LookupOperationKind is the strict form of ParseOperationKind
func LookupOperationKind(value string) (OperationKind, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", false
	}
	normalized := OperationKind(strings.ToUpper(strings.ReplaceAll(trimmed, " ", "_")))
	if normalized.IsValid() {
		return normalized, true
	}
	for _, kind := range OperationKinds {
		if strings.EqualFold(kind.Label(), trimmed) {
			return kind, true
		}
	}
	return "", false
}

// Canonical field names recorded in entries
const (
	FieldTask        = "task"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldPriority    = "priority"
	FieldDueDate     = "dueDate"
	FieldAssignedTo  = "assignedTo"
)

// Sentinel values written into entries
const (
	ValueCreated    = "created"
	ValueDeleted    = "deleted"
	ValueUnassigned = "unassigned"
)

// Entry is a single immutable record of a change to a task
type Entry struct {
	ID     int64 `json:"id"`
	TaskID int64 `json:"task_id"`

	FieldName string  `json:"field_name,omitempty"`
	OldValue  *string `json:"old_value,omitempty"`
	NewValue  *string `json:"new_value,omitempty"`

	Operation OperationKind `json:"operation"`

	// Actor information, absent for system initiated changes
	ActorID   *int64 `json:"actor_id,omitempty"`
	ActorName string `json:"actor_name,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
	Note       *string   `json:"note,omitempty"`

	// Request provenance
	SourceAddress string `json:"source_address,omitempty"`
	AgentString   string `json:"agent_string,omitempty"`
}

// HasValueChange reports whether old and new values differ.
// Two absent values are equal; an absent and a present value are not.
func (e *Entry) HasValueChange() bool {
	return !equalOptional(e.OldValue, e.NewValue)
}

// IsFieldUpdate reports whether the entry belongs to the field-update category
func (e *Entry) IsFieldUpdate() bool {
	return e.Operation.IsFieldUpdate()
}

// IsFieldChange reports whether the entry is a generic update of a named field
func (e *Entry) IsFieldChange() bool {
	return e.Operation == OperationUpdate && e.FieldName != ""
}

// Describe returns the explicit note, or a sentence derived from the operation
func (e *Entry) Describe() string {
	if e.Note != nil && *e.Note != "" {
		return *e.Note
	}

	oldValue, newValue := deref(e.OldValue), deref(e.NewValue)

	switch e.Operation {
	case OperationCreate:
		return "Task created"
	case OperationUpdate:
		if !e.HasValueChange() {
			return fmt.Sprintf("Field '%s' updated", e.FieldName)
		}
		return fmt.Sprintf("Field '%s' changed from '%s' to '%s'", e.FieldName, oldValue, newValue)
	case OperationDelete:
		return "Task deleted"
	case OperationAssign:
		return "Task assigned to: " + newValue
	case OperationUnassign:
		return "Task unassigned from: " + oldValue
	case OperationStatusChange, OperationPriorityChange, OperationDueDateChange,
		OperationTitleChange, OperationDescriptionChange:
		return fmt.Sprintf("%s changed from '%s' to '%s'", e.Operation.Label(), oldValue, newValue)
	default:
		return fmt.Sprintf("Field '%s' changed from '%s' to '%s'", e.FieldName, oldValue, newValue)
	}
}

// Filter narrows a store query. Zero values mean "no constraint".
type Filter struct {
	TaskID    *int64
	ActorID   *int64
	FieldName string

	Operations []OperationKind

	// Inclusive range
	From *time.Time
	To   *time.Time

	// Strictly before, used by retention
	Before *time.Time

	// Case-insensitive substring of the note
	NoteContains string

	// Limit <= 0 means unlimited
	Limit  int
	Offset int
}

// ActorCount is the number of changes attributed to one actor
type ActorCount struct {
	ActorID   int64  `json:"actor_id"`
	ActorName string `json:"actor_name"`
	Changes   int64  `json:"changes"`
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// StringPtr returns a pointer to s
func StringPtr(s string) *string {
	return &s
}
