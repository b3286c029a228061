package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"permitflow/internal/config"
	"permitflow/internal/db"
	"permitflow/internal/engine"
	"permitflow/internal/migrate"
	"permitflow/internal/storage"
)

// Runtime bundles everything a command or the server needs for one
// workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Store     *storage.FS
	Engine    engine.Engine
}

func (r *Runtime) Close() error {
	if r == nil || r.DB == nil {
		return nil
	}
	return r.DB.Close()
}

// Open loads permitflow.yml (defaults when absent), opens and migrates the
// database and builds the engine on top of the configured file store.
func Open(ctx context.Context, workspace string, logger *slog.Logger) (*Runtime, error) {
	if workspace == "" {
		workspace = "."
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	return OpenWithConfig(ctx, workspace, cfg, logger)
}

func OpenWithConfig(ctx context.Context, workspace string, cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	opts, err := StorageOptions(workspace, cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.NewFS(opts)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace, BusyTimeoutMS: cfg.Database.BusyTimeoutMS})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng, err := engine.New(conn, store, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &Runtime{
		Workspace: workspace,
		Config:    cfg,
		DB:        conn,
		Store:     store,
		Engine:    eng,
	}, nil
}

// StorageOptions resolves the storage section of cfg. Relative paths are
// taken from the workspace root.
func StorageOptions(workspace string, cfg *config.Config) (storage.Options, error) {
	comp, err := storage.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return storage.Options{}, err
	}
	identity := cfg.Storage.Encryption.IdentityFile
	if identity != "" && !filepath.IsAbs(identity) {
		identity = filepath.Join(workspace, identity)
	}
	return storage.Options{
		Root:           resolve(workspace, cfg.Storage.Dir),
		Compression:    comp,
		MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		Recipients:     cfg.Storage.Encryption.Recipients,
		IdentityFile:   identity,
	}, nil
}

func resolve(workspace, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
