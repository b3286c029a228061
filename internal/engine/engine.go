package engine

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"time"

	"permitflow/internal/activity"
	"permitflow/internal/automation"
	"permitflow/internal/config"
	"permitflow/internal/domain"
	"permitflow/internal/repo"
	"permitflow/internal/storage"
)

// Engine owns every mutation of permits, tasks, documents and the activity
// log. Each mutation and the entry that documents it share one transaction.
type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Activity activity.Writer
	Store    storage.Store
	Rules    *automation.Registry
	Config   *config.Config
	Logger   *slog.Logger
	Now      func() time.Time

	locks *keyedMutex
}

func New(db *sql.DB, store storage.Store, cfg *config.Config, logger *slog.Logger) (Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	rules, err := automation.FromConfig(cfg)
	if err != nil {
		return Engine{}, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Store:  store,
		Rules:  rules,
		Config: cfg,
		Logger: logger,
		Now:    time.Now,
		locks:  newKeyedMutex(),
	}, nil
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (e Engine) rules() *automation.Registry {
	if e.Rules != nil {
		return e.Rules
	}
	return automation.NewRegistry()
}

func (e Engine) strict() bool {
	return e.Config != nil && e.Config.Lifecycle.StrictTransitions
}

// record appends an activity entry stamped with the engine clock.
func (e Engine) record(ctx context.Context, tx *sql.Tx, entry activity.Entry) error {
	w := e.Activity
	if w.Now == nil {
		w.Now = e.now
	}
	_, err := w.Append(ctx, tx, entry)
	return err
}

func (e Engine) lock(key string) func() {
	if e.locks == nil {
		return func() {}
	}
	return e.locks.Lock(key)
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// RecentActivity returns a permit's audit trail, most recent first.
func (e Engine) RecentActivity(ctx context.Context, permitID string, limit int) ([]domain.Activity, error) {
	if _, err := e.GetPermit(ctx, permitID); err != nil {
		return nil, err
	}
	return e.Repo.RecentActivity(ctx, permitID, limit)
}
