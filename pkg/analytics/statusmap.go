package analytics

import (
	"strings"

	"github.com/forgesight/forgesight/pkg/models"
)

// statusCategories is the fixed mapping from source status text to the
// normalised bucket. Unknown statuses default to todo.
var statusCategories = map[string]models.StatusCategory{
	"to do":          models.StatusTodo,
	"open":           models.StatusTodo,
	"backlog":        models.StatusTodo,
	"new":            models.StatusTodo,
	"in progress":    models.StatusInProgress,
	"in development": models.StatusInProgress,
	"in review":      models.StatusInProgress,
	"code review":    models.StatusInProgress,
	"done":           models.StatusDone,
	"closed":         models.StatusDone,
	"resolved":       models.StatusDone,
	"completed":      models.StatusDone,
	"blocked":        models.StatusBlocked,
	"on hold":        models.StatusBlocked,
	"waiting":        models.StatusBlocked,
}

// CategoriseStatus maps source status text to its bucket,
// case-insensitively.
func CategoriseStatus(status string) models.StatusCategory {
	if c, ok := statusCategories[strings.ToLower(status)]; ok {
		return c
	}
	return models.StatusTodo
}
