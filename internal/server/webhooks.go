package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"permitflow/internal/domain"
	"permitflow/internal/repo"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookConfig lists the delivery targets and polling parameters.
type WebhookConfig struct {
	URLs         []string
	Secret       string
	Events       []string
	PollInterval time.Duration
	Timeout      time.Duration
	BatchSize    int
}

// WebhookDispatcher forwards activity entries to the configured URLs. Each
// URL keeps its own cursor and starts at the newest entry present when the
// dispatcher first polls, so history is not replayed on restart.
type WebhookDispatcher struct {
	repo    repo.Repo
	cfg     WebhookConfig
	client  *http.Client
	logger  *slog.Logger
	filter  eventFilter
	mu      sync.Mutex
	cursors map[int]int64
}

func NewWebhookDispatcher(r repo.Repo, cfg WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultWebhookInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultWebhookBatch
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebhookDispatcher{
		repo:    r,
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logger,
		filter:  newEventFilter(cfg.Events),
		cursors: make(map[int]int64),
	}
}

// Run polls until ctx is done. It returns immediately when no URL is set.
func (d *WebhookDispatcher) Run(ctx context.Context) {
	if len(d.cfg.URLs) == 0 {
		return
	}
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery round for every URL.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, url := range d.cfg.URLs {
		if strings.TrimSpace(url) == "" {
			continue
		}
		d.dispatchWebhook(ctx, i, url)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, url string) {
	cursor, ok := d.cursorFor(ctx, idx)
	if !ok {
		return
	}
	entries, err := d.repo.ActivityAfter(ctx, cursor, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error("webhook: fetch activity failed", "err", err)
		return
	}
	for _, a := range entries {
		if !d.filter.match(string(a.ActivityType)) {
			d.setCursor(idx, a.ID)
			continue
		}
		if err := d.postActivity(ctx, url, a); err != nil {
			// Retried from the same cursor next round.
			d.logger.Warn("webhook: delivery failed", "url", url, "activity_id", a.ID, "err", err)
			return
		}
		d.setCursor(idx, a.ID)
	}
}

// cursorFor returns the URL's cursor, pinning it to the newest entry on first
// use. It reports false when the cursor could not be initialized; the next
// round tries again.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) (int64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur, true
	}
	cur, err := d.repo.LatestActivityID(ctx)
	if err != nil {
		d.logger.Error("webhook: init cursor failed", "err", err)
		return 0, false
	}
	d.cursors[idx] = cur
	return cur, true
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *WebhookDispatcher) postActivity(ctx context.Context, url string, a domain.Activity) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Permitflow-Event", string(a.ActivityType))
	req.Header.Set("X-Permitflow-Delivery", fmt.Sprintf("%d", a.ID))
	req.Header.Set("X-Permitflow-Permit", a.PermitID)
	if strings.TrimSpace(d.cfg.Secret) != "" {
		req.Header.Set("X-Permitflow-Secret", d.cfg.Secret)
	}
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
