package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ytgrab/ytgrab/internal/task"
)

// TaskStore persists the task list across runs as a JSON file.
type TaskStore struct {
	path   string
	logger *slog.Logger
}

// NewTaskStore creates a store writing to path.
func NewTaskStore(path string, logger *slog.Logger) *TaskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskStore{path: path, logger: logger}
}

// Save writes the task list. In-flight statuses are normalized to paused
// on the serialized copies so a restart resumes cleanly; the live tasks
// are not touched. Failures are logged and swallowed.
func (t *TaskStore) Save(tasks []*task.Task) {
	out := make([]task.Task, 0, len(tasks))
	for _, tk := range tasks {
		snap := *tk
		if snap.Status == task.StatusDownloading || snap.Status == task.StatusWaiting {
			snap.Status = task.StatusPaused
		}
		out = append(out, snap)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		t.logger.Error("failed to serialize tasks", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		t.logger.Error("failed to create task directory", "error", err)
		return
	}
	if err := os.WriteFile(t.path, data, 0644); err != nil {
		t.logger.Error("failed to save tasks", "path", t.path, "error", err)
	}
}

// Load reads the persisted task list. A missing file returns an empty
// list; a corrupt file is an error.
func (t *TaskStore) Load() ([]*task.Task, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}

	var saved []task.Task
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse tasks: %w", err)
	}

	tasks := make([]*task.Task, 0, len(saved))
	for i := range saved {
		tasks = append(tasks, &saved[i])
	}
	return tasks, nil
}
