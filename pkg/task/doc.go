// Package task defines the task and user shapes the change log consumes.
//
// Task persistence lives outside this module. Callers hand the change log a
// Snapshot of the tracked fields before and after a mutation; the audit
// package diffs the two and records what changed.
//
// # Status and Priority
//
// Both are typed strings holding the canonical enum name ("TODO", "HIGH").
// DisplayName returns the human label that is written into audit entries:
//
//	task.StatusTodo.DisplayName()    // "To Do"
//	task.PriorityHigh.DisplayName()  // "High"
//
// ParseStatus and ParsePriority accept enum names, labels and common spellings
// ("to do", "In Progress", "inprogress").
package task
