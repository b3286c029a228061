package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"permitflow/internal/activity"
	"permitflow/internal/automation"
	"permitflow/internal/domain"
	"permitflow/internal/repo"
)

// evaluate runs every rule fired by from -> to inside the caller's
// transaction and returns the tasks it created.
func (e Engine) evaluate(ctx context.Context, tx *sql.Tx, p domain.Permit, from, to domain.PermitStatus, actorID, note string) ([]domain.Task, error) {
	var created []domain.Task
	for _, rule := range e.rules().Match(from, to) {
		t, ok, err := e.ensureTask(ctx, tx, p.ID, rule.Template, actorID, note)
		if err != nil {
			return nil, fmt.Errorf("automation %s -> %s (%s): %w", rule.From, rule.To, rule.Template.Name, err)
		}
		if ok {
			created = append(created, t)
		}
	}
	return created, nil
}

// ensureTask creates the templated task unless the permit already has a task
// with the same name. The insert is keyed on the template's automation key,
// so a concurrent writer that slipped past the name check loses silently.
func (e Engine) ensureTask(ctx context.Context, tx *sql.Tx, permitID string, tpl automation.Template, actorID, note string) (domain.Task, bool, error) {
	existing, err := e.Repo.FindTaskByName(ctx, tx, permitID, tpl.Name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Task{}, false, err
	}

	now := e.now()
	ts := now.UTC().Format(time.RFC3339)
	desc := note
	if desc == "" {
		desc = tpl.Description
	}
	key := tpl.Key()
	t := domain.Task{
		ID:            uuid.NewString(),
		PermitID:      permitID,
		Name:          tpl.Name,
		Description:   desc,
		Status:        domain.TaskNotStarted,
		Priority:      tpl.Priority,
		AutomationKey: &key,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if tpl.DueInDays > 0 {
		t.DueDate = formatTime(ptr(now.AddDate(0, 0, tpl.DueInDays)))
	}
	inserted, err := e.Repo.InsertTaskIfAbsent(ctx, tx, t)
	if err != nil {
		return domain.Task{}, false, fmt.Errorf("insert task: %w", err)
	}
	if !inserted {
		return domain.Task{}, false, nil
	}
	if err := e.record(ctx, tx, activity.Entry{
		PermitID:    permitID,
		ActorID:     actorID,
		Type:        domain.ActivityTaskCreated,
		EntityKind:  activity.KindTask,
		EntityID:    t.ID,
		Description: fmt.Sprintf("Task %q created automatically", t.Name),
		NewValue:    activity.Value(t.Name),
		Metadata:    map[string]any{"automation_key": key, "priority": string(t.Priority)},
	}); err != nil {
		return domain.Task{}, false, err
	}
	return t, true, nil
}

func ptr[T any](v T) *T { return &v }
