package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"permitflow/internal/domain"
	"permitflow/internal/engine"
	"permitflow/internal/repo"
	"permitflow/internal/storage"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"permit p-1 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"field\":\"status\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// multipartOverhead is the slack allowed on top of the upload limit for
// form fields and boundaries.
const multipartOverhead = 1 << 20

// New returns an HTTP handler exposing the permitflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the API envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Uploads stream straight to the multipart parser.
			if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
				next.ServeHTTP(w, r)
				return
			}
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("permitflow API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPermits(group, cfg.Engine)
	registerLifecycle(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerDocuments(group, cfg.Engine)
	registerActivity(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve *engine.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var nf *engine.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nf.Kind, "id": nf.ID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrConflict) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	if errors.Is(err, storage.ErrTooLarge) {
		return newAPIError(http.StatusRequestEntityTooLarge, "payload_too_large", err.Error(), nil)
	}
	var se *storage.Error
	if errors.As(err, &se) {
		return newAPIError(http.StatusBadGateway, "storage_error", err.Error(), map[string]any{"op": se.Op})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>permitflow API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type permitPath struct {
	PermitID string `path:"permit_id"`
}

type permitOutput struct {
	Body domain.Permit `json:"body"`
}

func registerPermits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-permit",
		Method:        http.MethodPost,
		Path:          "/permits",
		Summary:       "Create permit",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreatePermitRequest `json:"body"`
	}) (*permitOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opened, derr := parseDate("openedDate", input.Body.OpenedDate)
		if derr != nil {
			return nil, derr
		}
		target, derr := parseDate("targetIssueDate", input.Body.TargetIssueDate)
		if derr != nil {
			return nil, derr
		}
		p, err := e.CreatePermit(ctx, engine.PermitCreateCommand{
			ID:              input.Body.ID,
			CustomerID:      input.Body.CustomerID,
			ContractorID:    input.Body.ContractorID,
			ProjectName:     input.Body.ProjectName,
			Address:         input.Body.Address,
			Notes:           input.Body.Notes,
			OpenedDate:      opened,
			TargetIssueDate: target,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &permitOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-permits",
		Method:      http.MethodGet,
		Path:        "/permits",
		Summary:     "List permits",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status     string `query:"status" enum:"New,Submitted,InReview,RevisionsNeeded,Approved,Issued,Inspections,FinaledClosed,Canceled"`
		CustomerID string `query:"customerId"`
		Limit      int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.Permit `json:"body"`
	}, error) {
		items, err := e.ListPermits(ctx, repo.PermitFilters{
			Status:     domain.PermitStatus(input.Status),
			CustomerID: input.CustomerID,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Permit{}
		}
		return &struct {
			Body []domain.Permit `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-permit",
		Method:      http.MethodGet,
		Path:        "/permits/{permit_id}",
		Summary:     "Get permit with its tasks and documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *permitPath) (*struct {
		Body PermitDetailResponse `json:"body"`
	}, error) {
		p, err := e.GetPermit(ctx, input.PermitID)
		if err != nil {
			return nil, handleError(err)
		}
		tasks, err := e.ListTasks(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		docs, err := e.ListDocuments(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if tasks == nil {
			tasks = []domain.Task{}
		}
		if docs == nil {
			docs = []domain.Document{}
		}
		return &struct {
			Body PermitDetailResponse `json:"body"`
		}{Body: PermitDetailResponse{Permit: p, Tasks: tasks, Documents: docs}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-permit",
		Method:      http.MethodPatch,
		Path:        "/permits/{permit_id}",
		Summary:     "Update permit fields",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PermitID string              `path:"permit_id"`
		Body     UpdatePermitRequest `json:"body"`
	}) (*permitOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		raw := rawBodyMap(ctx)
		patch := engine.PermitFieldsPatch{
			PermitID:    input.PermitID,
			ProjectName: input.Body.ProjectName,
			Address:     input.Body.Address,
			Notes:       input.Body.Notes,
		}
		var derr huma.StatusError
		if patch.OpenedDate, derr = datePatch(raw, "openedDate", input.Body.OpenedDate); derr != nil {
			return nil, derr
		}
		if patch.TargetIssueDate, derr = datePatch(raw, "targetIssueDate", input.Body.TargetIssueDate); derr != nil {
			return nil, derr
		}
		if patch.ClosedDate, derr = datePatch(raw, "closedDate", input.Body.ClosedDate); derr != nil {
			return nil, derr
		}
		p, err := e.UpdateFields(ctx, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &permitOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-permit",
		Method:      http.MethodDelete,
		Path:        "/permits/{permit_id}",
		Summary:     "Delete permit with its tasks, documents and activity",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *permitPath) (*struct {
		Body DeletedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePermit(ctx, input.PermitID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedResponse `json:"body"`
		}{Body: DeletedResponse{ID: input.PermitID, Deleted: true}}, nil
	})
}

func registerLifecycle(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-permit-status",
		Method:      http.MethodPost,
		Path:        "/permits/{permit_id}/status",
		Summary:     "Change permit status and optionally its internal stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PermitID string           `path:"permit_id"`
		Body     SetStatusRequest `json:"body"`
	}) (*permitOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetStatus(ctx, engine.StatusChangeCommand{
			PermitID: input.PermitID,
			Status:   input.Body.Status,
			Note:     input.Body.Note,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.InternalStage != nil {
			p, err = e.SetInternalStage(ctx, engine.StageChangeCommand{
				PermitID: input.PermitID,
				Stage:    *input.Body.InternalStage,
				ActorID:  actorID,
			})
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &permitOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-permit-stage",
		Method:      http.MethodPost,
		Path:        "/permits/{permit_id}/stage",
		Summary:     "Change permit internal stage",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PermitID string          `path:"permit_id"`
		Body     SetStageRequest `json:"body"`
	}) (*permitOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetInternalStage(ctx, engine.StageChangeCommand{
			PermitID: input.PermitID,
			Stage:    input.Body.InternalStage,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &permitOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-permit-billing",
		Method:      http.MethodPost,
		Path:        "/permits/{permit_id}/billing",
		Summary:     "Change permit billing status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PermitID string            `path:"permit_id"`
		Body     SetBillingRequest `json:"body"`
	}) (*permitOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.SetBillingStatus(ctx, engine.BillingChangeCommand{
			PermitID: input.PermitID,
			Status:   input.Body.BillingStatus,
			Note:     input.Body.Note,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &permitOutput{Body: p}, nil
	})
}

type taskOutput struct {
	Body domain.Task `json:"body"`
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/permits/{permit_id}/tasks",
		Summary:     "List permit tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *permitPath) (*struct {
		Body []domain.Task `json:"body"`
	}, error) {
		items, err := e.ListTasks(ctx, input.PermitID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Task{}
		}
		return &struct {
			Body []domain.Task `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/permits/{permit_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PermitID string            `path:"permit_id"`
		Body     CreateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		due, derr := parseDate("dueDate", input.Body.DueDate)
		if derr != nil {
			return nil, derr
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateCommand{
			PermitID:    input.PermitID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			AssigneeID:  input.Body.AssigneeID,
			DueDate:     due,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*taskOutput, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*taskOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		due, derr := datePatch(rawBodyMap(ctx), "dueDate", input.Body.DueDate)
		if derr != nil {
			return nil, derr
		}
		t, err := e.UpdateTask(ctx, engine.TaskUpdateCommand{
			TaskID:      input.TaskID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Priority:    input.Body.Priority,
			AssigneeID:  input.Body.AssigneeID,
			DueDate:     due,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body DeletedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, input.TaskID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedResponse `json:"body"`
		}{Body: DeletedResponse{ID: input.TaskID, Deleted: true}}, nil
	})
}

type documentPath struct {
	DocumentID string `path:"document_id"`
}

type documentOutput struct {
	Body domain.Document `json:"body"`
}

func registerDocuments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-documents",
		Method:      http.MethodGet,
		Path:        "/permits/{permit_id}/documents",
		Summary:     "List permit documents",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *permitPath) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		items, err := e.ListDocuments(ctx, input.PermitID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Document{}
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: items}, nil
	})

	maxUpload := int64(50 << 20)
	if e.Config != nil && e.Config.Storage.MaxUploadBytes > 0 {
		maxUpload = e.Config.Storage.MaxUploadBytes
	}
	huma.Register(api, huma.Operation{
		OperationID:   "upload-document",
		Method:        http.MethodPost,
		Path:          "/permits/{permit_id}/documents",
		Summary:       "Upload a document revision",
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxUpload + multipartOverhead,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusRequestEntityTooLarge,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *struct {
		PermitID string `path:"permit_id"`
		RawBody  multipart.Form
	}) (*documentOutput, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		cmd, ferr := uploadCommand(&input.RawBody)
		if ferr != nil {
			return nil, ferr
		}
		cmd.PermitID = input.PermitID
		cmd.ActorID = actorID
		doc, err := e.AddDocument(ctx, cmd)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}",
		Summary:     "Get document metadata",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*documentOutput, error) {
		doc, err := e.GetDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "verify-document",
		Method:      http.MethodPost,
		Path:        "/documents/{document_id}/verify",
		Summary:     "Set document verification",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		DocumentID string                `path:"document_id"`
		Body       VerifyDocumentRequest `json:"body"`
	}) (*documentOutput, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		doc, err := e.VerifyDocument(ctx, engine.VerifyDocumentCommand{
			DocumentID: input.DocumentID,
			IsVerified: input.Body.IsVerified,
			Rejected:   input.Body.Rejected,
			Notes:      input.Body.Notes,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &documentOutput{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "document-lineage",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/lineage",
		Summary:     "List every revision in the document's version group",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body []domain.Document `json:"body"`
	}, error) {
		items, err := e.Lineage(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Document `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-document",
		Method:      http.MethodGet,
		Path:        "/documents/{document_id}/content",
		Summary:     "Download document bytes",
		Errors:      []int{http.StatusNotFound, http.StatusBadGateway},
	}, func(ctx context.Context, input *documentPath) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		doc, data, err := e.OpenDocument(ctx, input.DocumentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        contentType(doc.FileName, data),
			ContentDisposition: mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}),
			Body:               data,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-document",
		Method:      http.MethodDelete,
		Path:        "/documents/{document_id}",
		Summary:     "Delete document revision",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *documentPath) (*struct {
		Body DeletedResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteDocument(ctx, input.DocumentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeletedResponse `json:"body"`
		}{Body: DeletedResponse{ID: input.DocumentID, Deleted: true}}, nil
	})
}

func registerActivity(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "permit-activity",
		Method:      http.MethodGet,
		Path:        "/permits/{permit_id}/activity",
		Summary:     "Recent permit activity, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PermitID string `path:"permit_id"`
		Limit    int    `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body []domain.Activity `json:"body"`
	}, error) {
		if _, err := e.GetPermit(ctx, input.PermitID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.RecentActivity(ctx, input.PermitID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Activity{}
		}
		return &struct {
			Body []domain.Activity `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activity-feed",
		Method:      http.MethodGet,
		Path:        "/activity",
		Summary:     "Activity across permits, oldest first, after a cursor",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		After int64 `query:"after" minimum:"0"`
		Limit int   `query:"limit" minimum:"0" maximum:"500"`
	}) (*struct {
		Body ActivityFeedResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ActivityAfter(ctx, input.After, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		next := input.After
		if len(items) > 0 {
			next = items[len(items)-1].ID
		} else {
			items = []domain.Activity{}
		}
		return &struct {
			Body ActivityFeedResponse `json:"body"`
		}{Body: ActivityFeedResponse{Items: items, NextCursor: next}}, nil
	})
}

func uploadCommand(form *multipart.Form) (engine.AddDocumentCommand, huma.StatusError) {
	files := form.File["file"]
	if len(files) == 0 {
		return engine.AddDocumentCommand{}, newAPIError(http.StatusBadRequest, "bad_request", "file is required", map[string]any{"field": "file"})
	}
	fh := files[0]
	f, err := fh.Open()
	if err != nil {
		return engine.AddDocumentCommand{}, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file part", map[string]any{"error": err.Error()})
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return engine.AddDocumentCommand{}, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file part", map[string]any{"error": err.Error()})
	}
	cmd := engine.AddDocumentCommand{
		FileName:         fh.Filename,
		Category:         domain.DocumentCategory(formValue(form, "category")),
		Content:          content,
		Notes:            formValue(form, "notes"),
		ParentDocumentID: formValue(form, "parentDocumentId"),
	}
	for field, dst := range map[string]*bool{"isRequired": &cmd.IsRequired, "isNewVersion": &cmd.IsNewVersion} {
		raw := formValue(form, field)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return engine.AddDocumentCommand{}, newAPIError(http.StatusBadRequest, "bad_request", field+" must be a boolean", map[string]any{"field": field})
		}
		*dst = v
	}
	return cmd, nil
}

func formValue(form *multipart.Form, key string) string {
	if vals := form.Value[key]; len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}

func contentType(fileName string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(fileName)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func bodyBytes(ctx context.Context) []byte {
	if v := ctx.Value(bodyBytesKey{}); v != nil {
		if b, ok := v.([]byte); ok {
			return b
		}
	}
	return nil
}

func rawBodyMap(ctx context.Context) map[string]json.RawMessage {
	body := bodyBytes(ctx)
	if len(body) == 0 {
		return nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil
	}
	return raw
}

func parseDate(field string, raw *string) (*time.Time, huma.StatusError) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(*raw))
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "bad_request", field+" must be an RFC 3339 timestamp", map[string]any{"field": field})
	}
	return &t, nil
}

// datePatch distinguishes an absent key from an explicit null.
func datePatch(raw map[string]json.RawMessage, field string, value *string) (engine.DatePatch, huma.StatusError) {
	if _, ok := raw[field]; !ok {
		return engine.DatePatch{}, nil
	}
	t, err := parseDate(field, value)
	if err != nil {
		return engine.DatePatch{}, err
	}
	return engine.DatePatch{Set: true, Value: t}, nil
}
