package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"permitflow/internal/activity"
	"permitflow/internal/domain"
	"permitflow/internal/repo"
	"permitflow/internal/storage"
)

type PermitCreateCommand struct {
	ID              string
	CustomerID      string
	ContractorID    string
	ProjectName     string
	Address         string
	Notes           string
	OpenedDate      *time.Time
	TargetIssueDate *time.Time
	ActorID         string
}

type StatusChangeCommand struct {
	PermitID string
	Status   domain.PermitStatus
	Note     string
	ActorID  string
}

type StageChangeCommand struct {
	PermitID string
	Stage    domain.InternalStage
	ActorID  string
}

type BillingChangeCommand struct {
	PermitID string
	Status   domain.BillingStatus
	Note     string
	ActorID  string
}

// DatePatch updates a nullable date. Set with a nil Value clears it.
type DatePatch struct {
	Set   bool
	Value *time.Time
}

// PermitFieldsPatch touches descriptive fields only. Status, stage and
// billing go through their own commands.
type PermitFieldsPatch struct {
	PermitID        string
	ProjectName     *string
	Address         *string
	Notes           *string
	OpenedDate      DatePatch
	TargetIssueDate DatePatch
	ClosedDate      DatePatch
}

func (e Engine) CreatePermit(ctx context.Context, cmd PermitCreateCommand) (domain.Permit, error) {
	if strings.TrimSpace(cmd.CustomerID) == "" {
		return domain.Permit{}, invalid("customer_id", "is required")
	}
	if strings.TrimSpace(cmd.ProjectName) == "" {
		return domain.Permit{}, invalid("project_name", "is required")
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	} else if !storage.ValidPermitID(cmd.ID) {
		return domain.Permit{}, invalid("id", "must not be . or .. or contain '/', '\\' or NUL")
	}
	now := e.now()
	opened := cmd.OpenedDate
	if opened == nil {
		opened = &now
	}
	ts := now.UTC().Format(time.RFC3339)
	p := domain.Permit{
		ID:              cmd.ID,
		CustomerID:      cmd.CustomerID,
		ContractorID:    cmd.ContractorID,
		ProjectName:     strings.TrimSpace(cmd.ProjectName),
		Address:         cmd.Address,
		Notes:           cmd.Notes,
		Status:          domain.StatusNew,
		InternalStage:   domain.StageIntake,
		BillingStatus:   domain.BillingNotSent,
		OpenedDate:      formatTime(opened),
		TargetIssueDate: formatTime(cmd.TargetIssueDate),
		CreatedAt:       ts,
		UpdatedAt:       ts,
	}
	if err := e.Repo.InsertPermit(ctx, nil, p); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return domain.Permit{}, &ConflictError{Op: "create permit " + p.ID}
		}
		return domain.Permit{}, fmt.Errorf("insert permit: %w", err)
	}
	e.log().Info("permit created", "permit", p.ID, "actor", cmd.ActorID)
	return p, nil
}

func (e Engine) GetPermit(ctx context.Context, id string) (domain.Permit, error) {
	p, err := e.Repo.GetPermit(ctx, id)
	return p, notFound(err, "permit", id)
}

func (e Engine) ListPermits(ctx context.Context, f repo.PermitFilters) ([]domain.Permit, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return nil, invalid("status", "unknown permit status %q", f.Status)
	}
	return e.Repo.ListPermits(ctx, f)
}

// checkTransition enforces the canonical workflow graph. It is only
// consulted when lifecycle.strict_transitions is enabled.
func checkTransition(from, to domain.PermitStatus) error {
	if from.IsTerminal() {
		return invalid("status", "permit is %s; no further status changes are allowed", from)
	}
	if !domain.IsCanonicalTransition(from, to) {
		return invalid("status", "transition %s -> %s is not allowed", from, to)
	}
	return nil
}

// SetStatus moves a permit to a new status, records the change and runs the
// automation rules the transition fires, all in one transaction. Setting the
// current status is a no-op.
func (e Engine) SetStatus(ctx context.Context, cmd StatusChangeCommand) (domain.Permit, error) {
	if !cmd.Status.IsValid() {
		return domain.Permit{}, invalid("status", "unknown permit status %q", cmd.Status)
	}
	defer e.lock("permit:" + cmd.PermitID)()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPermitTx(ctx, tx, cmd.PermitID)
	if err != nil {
		return domain.Permit{}, notFound(err, "permit", cmd.PermitID)
	}
	if p.Status == cmd.Status {
		return p, nil
	}
	if e.strict() {
		if err := checkTransition(p.Status, cmd.Status); err != nil {
			return domain.Permit{}, err
		}
	}
	old := p.Status
	now := e.timestamp()
	p.Status = cmd.Status
	p.UpdatedAt = now
	if p.Status.IsTerminal() && p.ClosedDate == nil {
		p.ClosedDate = &now
	}
	if err := e.Repo.UpdatePermit(ctx, tx, p); err != nil {
		return domain.Permit{}, fmt.Errorf("update permit status: %w", err)
	}
	desc := cmd.Note
	if desc == "" {
		desc = fmt.Sprintf("Status changed from %s to %s", old, p.Status)
	}
	if err := e.record(ctx, tx, activity.Entry{
		PermitID:    p.ID,
		ActorID:     cmd.ActorID,
		Type:        domain.ActivityStatusChange,
		EntityKind:  activity.KindPermit,
		EntityID:    p.ID,
		Description: desc,
		OldValue:    activity.Value(old),
		NewValue:    activity.Value(p.Status),
	}); err != nil {
		return domain.Permit{}, err
	}
	created, err := e.evaluate(ctx, tx, p, old, p.Status, cmd.ActorID, cmd.Note)
	if err != nil {
		return domain.Permit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	e.log().Info("permit status changed", "permit", p.ID, "from", old, "to", p.Status, "tasks_created", len(created))
	return p, nil
}

// SetInternalStage records stage changes as FieldUpdated entries. Stages never
// fire automation rules.
func (e Engine) SetInternalStage(ctx context.Context, cmd StageChangeCommand) (domain.Permit, error) {
	if !cmd.Stage.IsValid() {
		return domain.Permit{}, invalid("internal_stage", "unknown internal stage %q", cmd.Stage)
	}
	defer e.lock("permit:" + cmd.PermitID)()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPermitTx(ctx, tx, cmd.PermitID)
	if err != nil {
		return domain.Permit{}, notFound(err, "permit", cmd.PermitID)
	}
	if p.InternalStage == cmd.Stage {
		return p, nil
	}
	old := p.InternalStage
	p.InternalStage = cmd.Stage
	p.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdatePermit(ctx, tx, p); err != nil {
		return domain.Permit{}, fmt.Errorf("update internal stage: %w", err)
	}
	if err := e.record(ctx, tx, activity.Entry{
		PermitID:    p.ID,
		ActorID:     cmd.ActorID,
		Type:        domain.ActivityFieldUpdated,
		EntityKind:  activity.KindPermit,
		EntityID:    p.ID,
		Description: fmt.Sprintf("Internal stage changed from %s to %s", old, p.InternalStage),
		OldValue:    activity.Value(old),
		NewValue:    activity.Value(p.InternalStage),
		Metadata:    map[string]any{"field": "internal_stage"},
	}); err != nil {
		return domain.Permit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	return p, nil
}

func (e Engine) SetBillingStatus(ctx context.Context, cmd BillingChangeCommand) (domain.Permit, error) {
	if !cmd.Status.IsValid() {
		return domain.Permit{}, invalid("billing_status", "unknown billing status %q", cmd.Status)
	}
	defer e.lock("permit:" + cmd.PermitID)()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPermitTx(ctx, tx, cmd.PermitID)
	if err != nil {
		return domain.Permit{}, notFound(err, "permit", cmd.PermitID)
	}
	if p.BillingStatus == cmd.Status {
		return p, nil
	}
	old := p.BillingStatus
	now := e.timestamp()
	p.BillingStatus = cmd.Status
	p.UpdatedAt = now
	if p.BillingStatus == domain.BillingSentToBilling && p.SentToBillingAt == nil {
		p.SentToBillingAt = &now
	}
	if err := e.Repo.UpdatePermit(ctx, tx, p); err != nil {
		return domain.Permit{}, fmt.Errorf("update billing status: %w", err)
	}
	desc := cmd.Note
	if desc == "" {
		desc = fmt.Sprintf("Billing status changed from %s to %s", old, p.BillingStatus)
	}
	if err := e.record(ctx, tx, activity.Entry{
		PermitID:    p.ID,
		ActorID:     cmd.ActorID,
		Type:        domain.ActivityBillingStatusChange,
		EntityKind:  activity.KindPermit,
		EntityID:    p.ID,
		Description: desc,
		OldValue:    activity.Value(old),
		NewValue:    activity.Value(p.BillingStatus),
	}); err != nil {
		return domain.Permit{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	e.log().Info("permit billing status changed", "permit", p.ID, "from", old, "to", p.BillingStatus)
	return p, nil
}

// UpdateFields applies a descriptive patch. It writes no activity entry.
func (e Engine) UpdateFields(ctx context.Context, patch PermitFieldsPatch) (domain.Permit, error) {
	if patch.ProjectName != nil && strings.TrimSpace(*patch.ProjectName) == "" {
		return domain.Permit{}, invalid("project_name", "must not be empty")
	}
	defer e.lock("permit:" + patch.PermitID)()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Permit{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetPermitTx(ctx, tx, patch.PermitID)
	if err != nil {
		return domain.Permit{}, notFound(err, "permit", patch.PermitID)
	}
	if patch.ProjectName != nil {
		p.ProjectName = strings.TrimSpace(*patch.ProjectName)
	}
	if patch.Address != nil {
		p.Address = *patch.Address
	}
	if patch.Notes != nil {
		p.Notes = *patch.Notes
	}
	if patch.OpenedDate.Set {
		p.OpenedDate = formatTime(patch.OpenedDate.Value)
	}
	if patch.TargetIssueDate.Set {
		p.TargetIssueDate = formatTime(patch.TargetIssueDate.Value)
	}
	if patch.ClosedDate.Set {
		p.ClosedDate = formatTime(patch.ClosedDate.Value)
	}
	p.UpdatedAt = e.timestamp()
	if err := e.Repo.UpdatePermit(ctx, tx, p); err != nil {
		return domain.Permit{}, fmt.Errorf("update permit fields: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Permit{}, err
	}
	return p, nil
}

// DeletePermit removes a permit with its tasks, documents and activity, then
// removes the stored document bytes. Byte removal failures are logged only.
func (e Engine) DeletePermit(ctx context.Context, permitID, actorID string) error {
	defer e.lock("permit:" + permitID)()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	paths, err := e.Repo.StoragePaths(ctx, tx, permitID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeletePermit(ctx, tx, permitID); err != nil {
		return notFound(err, "permit", permitID)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.log().Info("permit deleted", "permit", permitID, "actor", actorID, "documents", len(paths))
	for _, p := range paths {
		e.discard(ctx, p)
	}
	return nil
}
