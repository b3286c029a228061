package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"permitflow/internal/config"
	"permitflow/internal/db"
	"permitflow/internal/domain"
	"permitflow/internal/engine"
	"permitflow/internal/migrate"
	"permitflow/internal/repo"
	"permitflow/internal/storage"
)

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Store  *recordingStore
	Ctx    context.Context
	Dir    string
}

// recordingStore wraps the filesystem store and remembers deletions.
type recordingStore struct {
	*storage.FS
	mu      sync.Mutex
	deleted []string
	saveErr error
}

func (s *recordingStore) Save(ctx context.Context, content []byte, fileName, permitID string) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	return s.FS.Save(ctx, content, fileName, permitID)
}

func (s *recordingStore) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	s.deleted = append(s.deleted, path)
	s.mu.Unlock()
	return s.FS.Delete(ctx, path)
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, m := range mutate {
		m(cfg)
	}
	fs, err := storage.NewFS(storage.Options{Root: dir + "/files", Compression: storage.CompressionZstd, MaxUploadBytes: 1 << 20})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	store := &recordingStore{FS: fs}
	eng, err := engine.New(conn, store, cfg, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.Now = func() time.Time { return fixedNow }
	return testEnv{Engine: eng, Store: store, Ctx: ctx, Dir: dir}
}

func (env testEnv) permit(t *testing.T) domain.Permit {
	t.Helper()
	p, err := env.Engine.CreatePermit(env.Ctx, engine.PermitCreateCommand{CustomerID: "cust-1", ProjectName: "Harbor Street ADU", ActorID: "tester"})
	if err != nil {
		t.Fatalf("create permit: %v", err)
	}
	return p
}

func (env testEnv) activity(t *testing.T, permitID string) []domain.Activity {
	t.Helper()
	entries, err := env.Engine.Repo.RecentActivity(env.Ctx, permitID, repo.MaxListLimit)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	return entries
}

func countType(entries []domain.Activity, typ domain.ActivityType) int {
	n := 0
	for _, e := range entries {
		if e.ActivityType == typ {
			n++
		}
	}
	return n
}

func TestCreatePermitDefaults(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	if p.Status != domain.StatusNew || p.InternalStage != domain.StageIntake || p.BillingStatus != domain.BillingNotSent {
		t.Fatalf("unexpected initial state %+v", p)
	}
	if p.OpenedDate == nil || *p.OpenedDate != fixedNow.Format(time.RFC3339) {
		t.Fatalf("expected opened date to default to now, got %v", p.OpenedDate)
	}
	if len(env.activity(t, p.ID)) != 0 {
		t.Fatalf("intake should not write activity")
	}
	_, err := env.Engine.CreatePermit(env.Ctx, engine.PermitCreateCommand{CustomerID: "c"})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error for missing project name, got %v", err)
	}
}

func TestCreatePermitRejectsUnstorableID(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"BLD/2024/001", `BLD\2024`, "..", "a\x00b"} {
		_, err := env.Engine.CreatePermit(env.Ctx, engine.PermitCreateCommand{ID: id, CustomerID: "c", ProjectName: "Shed"})
		var verr *engine.ValidationError
		if !errors.As(err, &verr) || verr.Field != "id" {
			t.Fatalf("id %q: expected id validation error, got %v", id, err)
		}
	}
	p, err := env.Engine.CreatePermit(env.Ctx, engine.PermitCreateCommand{ID: "BLD-2024-001", CustomerID: "c", ProjectName: "Shed"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err := env.Engine.AddDocument(env.Ctx, engine.AddDocumentCommand{PermitID: p.ID, FileName: "plans.pdf", Category: domain.CategoryPlans, Content: []byte("x")})
	if err != nil || d.VersionTag != "v1" {
		t.Fatalf("upload to caller-named permit: %+v %v", d, err)
	}
}

func TestSetStatusEveryValueLogsOnce(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range domain.PermitStatuses {
		if target == domain.StatusNew {
			continue
		}
		p := env.permit(t)
		got, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: target, ActorID: "tester"})
		if err != nil {
			t.Fatalf("set %s: %v", target, err)
		}
		if got.Status != target {
			t.Fatalf("expected %s, got %s", target, got.Status)
		}
		entries := env.activity(t, p.ID)
		if countType(entries, domain.ActivityStatusChange) != 1 {
			t.Fatalf("%s: expected one StatusChange entry, got %d", target, countType(entries, domain.ActivityStatusChange))
		}
		var sc domain.Activity
		for _, e := range entries {
			if e.ActivityType == domain.ActivityStatusChange {
				sc = e
			}
		}
		if sc.OldValue == nil || *sc.OldValue != "New" || sc.NewValue == nil || *sc.NewValue != string(target) {
			t.Fatalf("%s: unexpected old/new values %v/%v", target, sc.OldValue, sc.NewValue)
		}
		if sc.ActorID != "tester" {
			t.Fatalf("expected actor tester, got %q", sc.ActorID)
		}
	}
}

func TestSetStatusSameValueIsNoop(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	if _, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusNew}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if n := len(env.activity(t, p.ID)); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}
}

func TestSetStatusErrors(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	_, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: "Pending"})
	var verr *engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	_, err = env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: "missing", Status: domain.StatusApproved})
	var nf *engine.NotFoundError
	if !errors.As(err, &nf) || !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApprovalEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	got, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusApproved, ActorID: "reviewer"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.Status != domain.StatusApproved {
		t.Fatalf("expected Approved, got %s", got.Status)
	}
	entries := env.activity(t, p.ID)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	// most recent first: the task entry follows the status change
	if entries[0].ActivityType != domain.ActivityTaskCreated || entries[1].ActivityType != domain.ActivityStatusChange {
		t.Fatalf("unexpected order %s, %s", entries[0].ActivityType, entries[1].ActivityType)
	}
	if *entries[1].OldValue != "New" || *entries[1].NewValue != "Approved" {
		t.Fatalf("unexpected status entry values")
	}
	if entries[1].Description != "Status changed from New to Approved" {
		t.Fatalf("unexpected description %q", entries[1].Description)
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.Name != "Send to Billing" || task.Status != domain.TaskNotStarted || task.Priority != domain.PriorityHigh {
		t.Fatalf("unexpected task %+v", task)
	}
	if entries[0].EntityID != task.ID {
		t.Fatalf("TaskCreated entry should reference the task")
	}
}

func TestApprovalTwiceCreatesOneTask(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	for _, s := range []domain.PermitStatus{domain.StatusApproved, domain.StatusRevisionsNeeded, domain.StatusApproved, domain.StatusApproved} {
		if _, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: s, Note: "workflow"}); err != nil {
			t.Fatalf("set %s: %v", s, err)
		}
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, p.ID)
	if len(tasks) != 1 {
		t.Fatalf("expected exactly one task, got %d", len(tasks))
	}
	if tasks[0].Description != "workflow" {
		t.Fatalf("expected the note as description, got %q", tasks[0].Description)
	}
	entries := env.activity(t, p.ID)
	if countType(entries, domain.ActivityTaskCreated) != 1 || countType(entries, domain.ActivityStatusChange) != 3 {
		t.Fatalf("unexpected entry counts: %d TaskCreated, %d StatusChange",
			countType(entries, domain.ActivityTaskCreated), countType(entries, domain.ActivityStatusChange))
	}
}

func TestManualTaskWithSameNameSuppressesAutomation(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateCommand{PermitID: p.ID, Name: "Send to Billing"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusApproved}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, p.ID)
	if len(tasks) != 1 {
		t.Fatalf("expected the manual task only, got %d", len(tasks))
	}
}

func TestConcurrentApprovalCreatesOneTask(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	// A second engine has its own lock table, so only the database
	// serializes the two of them.
	other, err := engine.New(env.Engine.DB, env.Store, env.Engine.Config, nil)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	engines := []engine.Engine{env.Engine, other, env.Engine, other}
	var wg sync.WaitGroup
	errs := make(chan error, len(engines))
	for _, eng := range engines {
		wg.Add(1)
		go func(eng engine.Engine) {
			defer wg.Done()
			_, err := eng.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusApproved})
			errs <- err
		}(eng)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("set status: %v", err)
		}
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, p.ID)
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	entries := env.activity(t, p.ID)
	if countType(entries, domain.ActivityStatusChange) != 1 || countType(entries, domain.ActivityTaskCreated) != 1 {
		t.Fatalf("unexpected entries: %d status, %d task", countType(entries, domain.ActivityStatusChange), countType(entries, domain.ActivityTaskCreated))
	}
}

func TestAuditFailureRollsBackStatus(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	if _, err := env.Engine.DB.Exec(`CREATE TRIGGER fail_task_audit BEFORE INSERT ON activity
WHEN NEW.activity_type = 'TaskCreated' BEGIN SELECT RAISE(ABORT, 'audit unavailable'); END`); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusApproved}); err == nil {
		t.Fatalf("expected failure")
	}
	got, _ := env.Engine.GetPermit(env.Ctx, p.ID)
	if got.Status != domain.StatusNew {
		t.Fatalf("status should roll back, got %s", got.Status)
	}
	if n := len(env.activity(t, p.ID)); n != 0 {
		t.Fatalf("expected no entries after rollback, got %d", n)
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, p.ID)
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks after rollback, got %d", len(tasks))
	}
}

func TestTerminalStatusStampsClosedDate(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	got, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusCanceled})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.ClosedDate == nil {
		t.Fatalf("expected closed date")
	}
	// permissive by default: a canceled permit can be reopened
	if _, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusSubmitted}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestStrictTransitions(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Lifecycle.StrictTransitions = true })
	p := env.permit(t)
	set := func(s domain.PermitStatus) error {
		_, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: s})
		return err
	}
	var verr *engine.ValidationError
	if err := set(domain.StatusApproved); !errors.As(err, &verr) {
		t.Fatalf("expected skip to be rejected, got %v", err)
	}
	for _, s := range []domain.PermitStatus{domain.StatusSubmitted, domain.StatusInReview, domain.StatusRevisionsNeeded, domain.StatusInReview, domain.StatusApproved, domain.StatusCanceled} {
		if err := set(s); err != nil {
			t.Fatalf("set %s: %v", s, err)
		}
	}
	if err := set(domain.StatusSubmitted); !errors.As(err, &verr) {
		t.Fatalf("expected terminal guard, got %v", err)
	}
	if n := countType(env.activity(t, p.ID), domain.ActivityStatusChange); n != 6 {
		t.Fatalf("expected 6 status entries, got %d", n)
	}
}

func TestConfiguredRuleRunsWithoutLifecycleChanges(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.Automation.Rules = append(c.Automation.Rules, config.AutomationRule{
			From: "Approved", To: "Issued",
			Task: config.TaskTemplate{Name: "Schedule Inspections", Priority: "medium", DueInDays: 14},
		})
	})
	p := env.permit(t)
	for _, s := range []domain.PermitStatus{domain.StatusApproved, domain.StatusIssued} {
		if _, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: s}); err != nil {
			t.Fatalf("set %s: %v", s, err)
		}
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, p.ID)
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	insp := tasks[1]
	want := fixedNow.AddDate(0, 0, 14).Format(time.RFC3339)
	if insp.Name != "Schedule Inspections" || insp.DueDate == nil || *insp.DueDate != want {
		t.Fatalf("unexpected configured task %+v", insp)
	}
}

func TestInternalStageAndBilling(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	if _, err := env.Engine.SetInternalStage(env.Ctx, engine.StageChangeCommand{PermitID: p.ID, Stage: domain.StageDrafting}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := env.Engine.SetInternalStage(env.Ctx, engine.StageChangeCommand{PermitID: p.ID, Stage: domain.StageDrafting}); err != nil {
		t.Fatalf("stage noop: %v", err)
	}
	got, err := env.Engine.SetBillingStatus(env.Ctx, engine.BillingChangeCommand{PermitID: p.ID, Status: domain.BillingSentToBilling})
	if err != nil {
		t.Fatalf("billing: %v", err)
	}
	if got.SentToBillingAt == nil {
		t.Fatalf("expected sentToBillingAt")
	}
	if _, err := env.Engine.SetBillingStatus(env.Ctx, engine.BillingChangeCommand{PermitID: p.ID, Status: "Invoiced"}); err == nil {
		t.Fatalf("expected validation error")
	}
	entries := env.activity(t, p.ID)
	if countType(entries, domain.ActivityFieldUpdated) != 1 || countType(entries, domain.ActivityBillingStatusChange) != 1 {
		t.Fatalf("unexpected entries %+v", entries)
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, p.ID)
	if len(tasks) != 0 {
		t.Fatalf("stage and billing must not create tasks")
	}
}

func TestUpdateFieldsWritesNoActivity(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	name := "Harbor Street ADU (rev)"
	target := fixedNow.AddDate(0, 2, 0)
	got, err := env.Engine.UpdateFields(env.Ctx, engine.PermitFieldsPatch{
		PermitID:        p.ID,
		ProjectName:     &name,
		TargetIssueDate: engine.DatePatch{Set: true, Value: &target},
		OpenedDate:      engine.DatePatch{Set: true},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.ProjectName != name || got.TargetIssueDate == nil || got.OpenedDate != nil {
		t.Fatalf("unexpected permit %+v", got)
	}
	if got.Status != domain.StatusNew {
		t.Fatalf("patch must not touch status")
	}
	if n := len(env.activity(t, p.ID)); n != 0 {
		t.Fatalf("expected no entries, got %d", n)
	}
}

func TestTaskCompletionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateCommand{PermitID: p.ID, Name: "Collect signatures", Priority: domain.PriorityLow})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	completed := domain.TaskCompleted
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateCommand{TaskID: task.ID, Status: &completed})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.CompletedAt == nil {
		t.Fatalf("expected completedAt")
	}
	inProgress := domain.TaskInProgress
	assignee := "drafter-2"
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateCommand{TaskID: task.ID, Status: &inProgress, AssigneeID: &assignee})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if task.CompletedAt != nil {
		t.Fatalf("completedAt should clear when leaving Completed")
	}
	if task.AssigneeID == nil || *task.AssigneeID != assignee {
		t.Fatalf("expected assignee")
	}
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateCommand{TaskID: task.ID, AssigneeID: &assignee}); err != nil {
		t.Fatalf("noop update: %v", err)
	}
	bad := domain.TaskStatus("Done")
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateCommand{TaskID: task.ID, Status: &bad}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := env.Engine.DeleteTask(env.Ctx, task.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	entries := env.activity(t, p.ID)
	if countType(entries, domain.ActivityTaskCreated) != 1 || countType(entries, domain.ActivityTaskCompleted) != 1 || countType(entries, domain.ActivityFieldUpdated) != 2 {
		t.Fatalf("unexpected entries: created=%d completed=%d updated=%d",
			countType(entries, domain.ActivityTaskCreated), countType(entries, domain.ActivityTaskCompleted), countType(entries, domain.ActivityFieldUpdated))
	}
}

func TestCreateTaskForMissingPermit(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateCommand{PermitID: "nope", Name: "x"})
	var nf *engine.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecentActivityBounded(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	stages := domain.InternalStages
	for i := 1; i <= 6; i++ {
		if _, err := env.Engine.SetInternalStage(env.Ctx, engine.StageChangeCommand{PermitID: p.ID, Stage: stages[i%len(stages)]}); err != nil {
			t.Fatalf("stage: %v", err)
		}
	}
	got, err := env.Engine.RecentActivity(env.Ctx, p.ID, 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if !(got[0].ID > got[1].ID && got[1].ID > got[2].ID) {
		t.Fatalf("expected most recent first")
	}
	if _, err := env.Engine.RecentActivity(env.Ctx, "missing", 3); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeletePermitCascades(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	if _, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusApproved}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	doc, err := env.Engine.AddDocument(env.Ctx, engine.AddDocumentCommand{PermitID: p.ID, FileName: "plans.pdf", Category: domain.CategoryPlans, Content: []byte("pdf")})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := env.Engine.DeletePermit(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, table := range []string{"tasks", "documents", "activity", "document_version_counters"} {
		var n int
		if err := env.Engine.DB.QueryRow(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE permit_id=?`, table), p.ID).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Fatalf("expected %s rows to cascade, found %d", table, n)
		}
	}
	if ok, _ := env.Store.Exists(env.Ctx, doc.StoragePath); ok {
		t.Fatalf("expected stored bytes to be removed")
	}
	if err := env.Engine.DeletePermit(env.Ctx, p.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestKeyedLocksDoNotLeak(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stage := domain.InternalStages[i%len(domain.InternalStages)]
			_, _ = env.Engine.SetInternalStage(env.Ctx, engine.StageChangeCommand{PermitID: p.ID, Stage: stage})
		}(i)
	}
	wg.Wait()
	if n := engine.LockCount(env.Engine); n != 0 {
		t.Fatalf("expected lock table to drain, %d keys left", n)
	}
}

func TestStatusNoteUsedAsDescription(t *testing.T) {
	env := newTestEnv(t)
	p := env.permit(t)
	if _, err := env.Engine.SetStatus(env.Ctx, engine.StatusChangeCommand{PermitID: p.ID, Status: domain.StatusSubmitted, Note: "Filed online, ref #4471"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	entries := env.activity(t, p.ID)
	if !strings.Contains(entries[0].Description, "#4471") {
		t.Fatalf("expected note in description, got %q", entries[0].Description)
	}
}
