package permitflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal permitflow HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set. Servers
	// only honour it when the legacy header is enabled.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Permit represents the API permit model.
type Permit struct {
	ID              string  `json:"id"`
	CustomerID      string  `json:"customerId"`
	ContractorID    string  `json:"contractorId,omitempty"`
	ProjectName     string  `json:"projectName"`
	Address         string  `json:"address,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	Status          string  `json:"status"`
	InternalStage   string  `json:"internalStage"`
	BillingStatus   string  `json:"billingStatus"`
	OpenedDate      *string `json:"openedDate,omitempty"`
	TargetIssueDate *string `json:"targetIssueDate,omitempty"`
	ClosedDate      *string `json:"closedDate,omitempty"`
	SentToBillingAt *string `json:"sentToBillingAt,omitempty"`
	CreatedAt       string  `json:"createdAt"`
	UpdatedAt       string  `json:"updatedAt"`
}

// Task represents the API task model (partial).
type Task struct {
	ID            string  `json:"id"`
	PermitID      string  `json:"permitId"`
	Name          string  `json:"name"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status"`
	Priority      string  `json:"priority"`
	AssigneeID    *string `json:"assigneeId,omitempty"`
	DueDate       *string `json:"dueDate,omitempty"`
	CompletedAt   *string `json:"completedAt,omitempty"`
	AutomationKey *string `json:"automationKey,omitempty"`
}

// Document represents one stored document revision.
type Document struct {
	ID               string  `json:"id"`
	PermitID         string  `json:"permitId"`
	FileName         string  `json:"fileName"`
	Category         string  `json:"category"`
	VersionTag       string  `json:"versionTag"`
	ParentDocumentID *string `json:"parentDocumentId,omitempty"`
	VersionGroupID   *string `json:"versionGroupId,omitempty"`
	IsRequired       bool    `json:"isRequired"`
	IsVerified       bool    `json:"isVerified"`
	Status           string  `json:"status"`
	Notes            string  `json:"notes,omitempty"`
	SizeBytes        int64   `json:"sizeBytes"`
	UploadedBy       string  `json:"uploadedBy"`
	CreatedAt        string  `json:"createdAt"`
}

// Activity represents an audit log entry.
type Activity struct {
	ID           int64          `json:"id"`
	PermitID     string         `json:"permitId"`
	ActorID      string         `json:"actorId"`
	ActivityType string         `json:"activityType"`
	EntityKind   string         `json:"entityKind"`
	EntityID     string         `json:"entityId,omitempty"`
	Description  string         `json:"description"`
	OldValue     *string        `json:"oldValue,omitempty"`
	NewValue     *string        `json:"newValue,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"createdAt"`
}

// ActivityPage wraps the cross-permit feed with its cursor.
type ActivityPage struct {
	Items      []Activity `json:"items"`
	NextCursor int64      `json:"nextCursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePermitInput carries the fields accepted at intake.
type CreatePermitInput struct {
	ID              string     `json:"id,omitempty"`
	CustomerID      string     `json:"customerId"`
	ContractorID    string     `json:"contractorId,omitempty"`
	ProjectName     string     `json:"projectName"`
	Address         string     `json:"address,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	OpenedDate      *time.Time `json:"openedDate,omitempty"`
	TargetIssueDate *time.Time `json:"targetIssueDate,omitempty"`
}

// CreatePermit opens a permit.
func (c *Client) CreatePermit(ctx context.Context, in CreatePermitInput) (Permit, error) {
	var resp Permit
	err := c.do(ctx, http.MethodPost, "permits", in, &resp)
	return resp, err
}

// GetPermit fetches a permit by id.
func (c *Client) GetPermit(ctx context.Context, id string) (Permit, error) {
	var resp Permit
	err := c.do(ctx, http.MethodGet, "permits/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListPermits lists permits, optionally filtered by status.
func (c *Client) ListPermits(ctx context.Context, status string, limit int) ([]Permit, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Permit
	err := c.do(ctx, http.MethodGet, withQuery("permits", q), nil, &resp)
	return resp, err
}

// SetStatus changes the permit status. A non-empty stage is applied after
// the status change.
func (c *Client) SetStatus(ctx context.Context, permitID, status, internalStage, note string) (Permit, error) {
	body := map[string]any{"status": status}
	if internalStage != "" {
		body["internalStage"] = internalStage
	}
	if note != "" {
		body["note"] = note
	}
	var resp Permit
	err := c.do(ctx, http.MethodPost, "permits/"+url.PathEscape(permitID)+"/status", body, &resp)
	return resp, err
}

// SetBillingStatus changes the permit billing status.
func (c *Client) SetBillingStatus(ctx context.Context, permitID, billingStatus, note string) (Permit, error) {
	body := map[string]any{"billingStatus": billingStatus}
	if note != "" {
		body["note"] = note
	}
	var resp Permit
	err := c.do(ctx, http.MethodPost, "permits/"+url.PathEscape(permitID)+"/billing", body, &resp)
	return resp, err
}

// ListTasks returns the permit's tasks.
func (c *Client) ListTasks(ctx context.Context, permitID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "permits/"+url.PathEscape(permitID)+"/tasks", nil, &resp)
	return resp, err
}

// CreateTask adds a manual task.
func (c *Client) CreateTask(ctx context.Context, permitID, name, priority string) (Task, error) {
	body := map[string]any{"name": name}
	if priority != "" {
		body["priority"] = priority
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "permits/"+url.PathEscape(permitID)+"/tasks", body, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to status.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(taskID), map[string]any{"status": status}, &resp)
	return resp, err
}

// UploadInput describes a document upload.
type UploadInput struct {
	FileName         string
	Category         string
	Content          []byte
	Notes            string
	IsRequired       bool
	IsNewVersion     bool
	ParentDocumentID string
}

// UploadDocument stores a new document revision on a permit.
func (c *Client) UploadDocument(ctx context.Context, permitID string, in UploadInput) (Document, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", in.FileName)
	if err != nil {
		return Document{}, err
	}
	if _, err := part.Write(in.Content); err != nil {
		return Document{}, err
	}
	fields := map[string]string{
		"category":     in.Category,
		"isRequired":   strconv.FormatBool(in.IsRequired),
		"isNewVersion": strconv.FormatBool(in.IsNewVersion),
	}
	if in.Notes != "" {
		fields["notes"] = in.Notes
	}
	if in.ParentDocumentID != "" {
		fields["parentDocumentId"] = in.ParentDocumentID
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return Document{}, err
		}
	}
	if err := mw.Close(); err != nil {
		return Document{}, err
	}
	var resp Document
	err = c.send(ctx, http.MethodPost, "permits/"+url.PathEscape(permitID)+"/documents", &buf, mw.FormDataContentType(), &resp)
	return resp, err
}

// VerifyDocument sets the verification flag of a document.
func (c *Client) VerifyDocument(ctx context.Context, documentID string, verified bool) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodPost, "documents/"+url.PathEscape(documentID)+"/verify", map[string]any{"isVerified": verified}, &resp)
	return resp, err
}

// Lineage returns every revision in the document's version group.
func (c *Client) Lineage(ctx context.Context, documentID string) ([]Document, error) {
	var resp []Document
	err := c.do(ctx, http.MethodGet, "documents/"+url.PathEscape(documentID)+"/lineage", nil, &resp)
	return resp, err
}

// DownloadDocument returns the stored bytes of a document.
func (c *Client) DownloadDocument(ctx context.Context, documentID string) ([]byte, error) {
	var out bytes.Buffer
	err := c.send(ctx, http.MethodGet, "documents/"+url.PathEscape(documentID)+"/content", nil, "", &out)
	return out.Bytes(), err
}

// Activity returns the permit's recent activity, newest first.
func (c *Client) Activity(ctx context.Context, permitID string, limit int) ([]Activity, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, withQuery("permits/"+url.PathEscape(permitID)+"/activity", q), nil, &resp)
	return resp, err
}

// ActivityFeed returns entries across permits with ids above cursor.
func (c *Client) ActivityFeed(ctx context.Context, cursor int64, limit int) (ActivityPage, error) {
	q := url.Values{}
	if cursor > 0 {
		q.Set("after", strconv.FormatInt(cursor, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp ActivityPage
	err := c.do(ctx, http.MethodGet, withQuery("activity", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, &buf, "application/json", out)
}

// send performs the request. out may be a *bytes.Buffer to receive the raw
// body, or any value to decode JSON into.
func (c *Client) send(ctx context.Context, method, endpoint string, body io.Reader, contentType string, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	if body == nil {
		body = http.NoBody
	}
	u := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
