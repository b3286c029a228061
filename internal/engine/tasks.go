package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"permitflow/internal/activity"
	"permitflow/internal/domain"
)

type TaskCreateCommand struct {
	PermitID    string
	Name        string
	Description string
	Status      domain.TaskStatus
	Priority    domain.TaskPriority
	AssigneeID  string
	DueDate     *time.Time
	ActorID     string
}

// TaskUpdateCommand changes the fields that are set. An empty AssigneeID
// unassigns the task.
type TaskUpdateCommand struct {
	TaskID      string
	Name        *string
	Description *string
	Status      *domain.TaskStatus
	Priority    *domain.TaskPriority
	AssigneeID  *string
	DueDate     DatePatch
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, cmd TaskCreateCommand) (domain.Task, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return domain.Task{}, invalid("name", "is required")
	}
	if cmd.Status == "" {
		cmd.Status = domain.TaskNotStarted
	}
	if !cmd.Status.IsValid() {
		return domain.Task{}, invalid("status", "unknown task status %q", cmd.Status)
	}
	if cmd.Priority == "" {
		cmd.Priority = domain.PriorityMedium
	}
	if !cmd.Priority.IsValid() {
		return domain.Task{}, invalid("priority", "unknown priority %q", cmd.Priority)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetPermitTx(ctx, tx, cmd.PermitID); err != nil {
		return domain.Task{}, notFound(err, "permit", cmd.PermitID)
	}
	ts := e.timestamp()
	t := domain.Task{
		ID:          uuid.NewString(),
		PermitID:    cmd.PermitID,
		Name:        name,
		Description: cmd.Description,
		Status:      cmd.Status,
		Priority:    cmd.Priority,
		DueDate:     formatTime(cmd.DueDate),
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
	if cmd.AssigneeID != "" {
		t.AssigneeID = ptr(cmd.AssigneeID)
	}
	if t.Status == domain.TaskCompleted {
		t.CompletedAt = ptr(ts)
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.record(ctx, tx, activity.Entry{
		PermitID:    t.PermitID,
		ActorID:     cmd.ActorID,
		Type:        domain.ActivityTaskCreated,
		EntityKind:  activity.KindTask,
		EntityID:    t.ID,
		Description: fmt.Sprintf("Task %q created", t.Name),
		NewValue:    activity.Value(t.Name),
		Metadata:    map[string]any{"priority": string(t.Priority), "status": string(t.Status)},
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, id)
	return t, notFound(err, "task", id)
}

func (e Engine) ListTasks(ctx context.Context, permitID string) ([]domain.Task, error) {
	if _, err := e.GetPermit(ctx, permitID); err != nil {
		return nil, err
	}
	return e.Repo.ListTasks(ctx, permitID)
}

// UpdateTask applies cmd. Entering Completed stamps completedAt and records
// TaskCompleted; leaving Completed clears it. Every other change is recorded
// as one FieldUpdated entry listing the changed fields.
func (e Engine) UpdateTask(ctx context.Context, cmd TaskUpdateCommand) (domain.Task, error) {
	if cmd.Name != nil && strings.TrimSpace(*cmd.Name) == "" {
		return domain.Task{}, invalid("name", "must not be empty")
	}
	if cmd.Status != nil && !cmd.Status.IsValid() {
		return domain.Task{}, invalid("status", "unknown task status %q", *cmd.Status)
	}
	if cmd.Priority != nil && !cmd.Priority.IsValid() {
		return domain.Task{}, invalid("priority", "unknown priority %q", *cmd.Priority)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, cmd.TaskID)
	if err != nil {
		return domain.Task{}, notFound(err, "task", cmd.TaskID)
	}
	ts := e.timestamp()
	var changed []string
	if cmd.Name != nil && strings.TrimSpace(*cmd.Name) != t.Name {
		t.Name = strings.TrimSpace(*cmd.Name)
		changed = append(changed, "name")
	}
	if cmd.Description != nil && *cmd.Description != t.Description {
		t.Description = *cmd.Description
		changed = append(changed, "description")
	}
	if cmd.Priority != nil && *cmd.Priority != t.Priority {
		t.Priority = *cmd.Priority
		changed = append(changed, "priority")
	}
	if cmd.AssigneeID != nil && *cmd.AssigneeID != deref(t.AssigneeID) {
		if *cmd.AssigneeID == "" {
			t.AssigneeID = nil
		} else {
			t.AssigneeID = ptr(*cmd.AssigneeID)
		}
		changed = append(changed, "assignee_id")
	}
	if cmd.DueDate.Set {
		due := formatTime(cmd.DueDate.Value)
		if deref(due) != deref(t.DueDate) {
			t.DueDate = due
			changed = append(changed, "due_date")
		}
	}
	oldStatus := t.Status
	completed := false
	if cmd.Status != nil && *cmd.Status != t.Status {
		t.Status = *cmd.Status
		switch {
		case t.Status == domain.TaskCompleted:
			t.CompletedAt = ptr(ts)
			completed = true
		case oldStatus == domain.TaskCompleted:
			t.CompletedAt = nil
			changed = append(changed, "status")
		default:
			changed = append(changed, "status")
		}
	}
	if !completed && len(changed) == 0 {
		return t, nil
	}
	t.UpdatedAt = ts
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if completed {
		if err := e.record(ctx, tx, activity.Entry{
			PermitID:    t.PermitID,
			ActorID:     cmd.ActorID,
			Type:        domain.ActivityTaskCompleted,
			EntityKind:  activity.KindTask,
			EntityID:    t.ID,
			Description: fmt.Sprintf("Task %q completed", t.Name),
			OldValue:    activity.Value(oldStatus),
			NewValue:    activity.Value(t.Status),
		}); err != nil {
			return domain.Task{}, err
		}
	}
	if len(changed) > 0 {
		entry := activity.Entry{
			PermitID:    t.PermitID,
			ActorID:     cmd.ActorID,
			Type:        domain.ActivityFieldUpdated,
			EntityKind:  activity.KindTask,
			EntityID:    t.ID,
			Description: fmt.Sprintf("Task %q updated: %s", t.Name, strings.Join(changed, ", ")),
			Metadata:    map[string]any{"fields": changed},
		}
		if oldStatus != t.Status {
			entry.OldValue = activity.Value(oldStatus)
			entry.NewValue = activity.Value(t.Status)
		}
		if err := e.record(ctx, tx, entry); err != nil {
			return domain.Task{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return notFound(err, "task", taskID)
	}
	if err := e.Repo.DeleteTask(ctx, tx, taskID); err != nil {
		return notFound(err, "task", taskID)
	}
	if err := e.record(ctx, tx, activity.Entry{
		PermitID:    t.PermitID,
		ActorID:     actorID,
		Type:        domain.ActivityFieldUpdated,
		EntityKind:  activity.KindTask,
		EntityID:    t.ID,
		Description: fmt.Sprintf("Task %q deleted", t.Name),
		OldValue:    activity.Value(t.Name),
		Metadata:    map[string]any{"deleted": true},
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
