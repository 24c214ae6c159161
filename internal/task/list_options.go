package task

import (
	"sort"
	"strings"
	"time"
)

// SortOrder defines how results should be ordered when listing tasks.
type SortOrder int

const (
	// SortByUpdatedDesc orders tasks by UpdatedAt descending (most recent first).
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc orders tasks by UpdatedAt ascending (oldest first).
	SortByUpdatedAsc
	// SortByQueueOrder orders tasks by (priority desc, created_at asc), the
	// same total order the dispatcher uses.
	SortByQueueOrder
)

// ListOptions controls how tasks are selected when querying the queue.
type ListOptions struct {
	Limit      int
	Statuses   []Status
	Tags       []string
	Handler    string
	UpdatedGTE int64
	UpdatedLTE int64
	Order      SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Statuses != nil {
		opts.Statuses = normalizeStatuses(opts.Statuses)
	}
	opts.Handler = strings.TrimSpace(opts.Handler)
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of tasks returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithStatuses filters tasks by the provided statuses.
func WithStatuses(statuses ...Status) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithTags filters tasks carrying all of the provided tags.
func WithTags(tags ...string) ListOption {
	return func(opts *ListOptions) {
		opts.Tags = append(opts.Tags[:0], tags...)
	}
}

// WithHandler filters tasks bound to the given handler identifier.
func WithHandler(handler string) ListOption {
	return func(opts *ListOptions) {
		opts.Handler = handler
	}
}

// WithUpdatedSince filters tasks updated after the provided instant (inclusive).
func WithUpdatedSince(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedGTE = 0
			return
		}
		opts.UpdatedGTE = ts.Unix()
	}
}

// WithUpdatedUntil filters tasks updated before the provided instant (inclusive).
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(opts *ListOptions) {
		if ts.IsZero() {
			opts.UpdatedLTE = 0
			return
		}
		opts.UpdatedLTE = ts.Unix()
	}
}

// WithSortOrder changes the returned order of tasks.
func WithSortOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

// NewListOptions applies option functions on top of defaults.
func NewListOptions(opts ...ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}

func normalizeStatuses(input []Status) []Status {
	if len(input) == 0 {
		return nil
	}
	seen := make(map[Status]struct{}, len(input))
	result := make([]Status, 0, len(input))
	for _, status := range input {
		if !IsValidStatus(status) {
			continue
		}
		if _, ok := seen[status]; ok {
			continue
		}
		seen[status] = struct{}{}
		result = append(result, status)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func matchesListFilters(t *Task, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if t.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if !t.HasAllTags(opts.Tags) {
		return false
	}
	if opts.Handler != "" && t.Handler != opts.Handler {
		return false
	}
	if opts.UpdatedGTE > 0 && t.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && t.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

func sortTasks(tasks []*Task, order SortOrder) {
	sort.Slice(tasks, func(i, j int) bool {
		switch order {
		case SortByUpdatedAsc:
			if tasks[i].UpdatedAt == tasks[j].UpdatedAt {
				return tieBreak(tasks[i], tasks[j])
			}
			return tasks[i].UpdatedAt < tasks[j].UpdatedAt
		case SortByQueueOrder:
			if tasks[i].Priority != tasks[j].Priority {
				return tasks[i].Priority > tasks[j].Priority
			}
			return tieBreak(tasks[i], tasks[j])
		default:
			if tasks[i].UpdatedAt == tasks[j].UpdatedAt {
				return tieBreak(tasks[i], tasks[j])
			}
			return tasks[i].UpdatedAt > tasks[j].UpdatedAt
		}
	})
}

func tieBreak(a, b *Task) bool {
	if a.CreatedAt == b.CreatedAt {
		return a.ID < b.ID
	}
	return a.CreatedAt < b.CreatedAt
}
