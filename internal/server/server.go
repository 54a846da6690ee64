package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hireline/internal/coordinator"
	"hireline/internal/domain"
	"hireline/internal/events"
	"hireline/internal/planner"
	"hireline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Coordinator   *coordinator.Coordinator
	DefaultBudget float64
	BasePath      string
	Auth          AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"capability_not_found"`
	Message string         `json:"message" example:"no active worker offers \"data\""`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Hireline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Coordinator.Repo))
	hcfg := huma.DefaultConfig("Hireline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg)
	registerWorkers(group, cfg.Coordinator)
	registerLedger(group, cfg.Coordinator)
	registerEvents(group, cfg.Coordinator.Broker)
	registerKeys(group, cfg.Coordinator.Repo)
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
	if errors.Is(err, planner.ErrEmptyTask) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, coordinator.ErrBadBudget) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func registerTasks(api huma.API, cfg Config) {
	c := cfg.Coordinator

	huma.Register(api, huma.Operation{
		OperationID:   "run-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Run a task",
		Description:   "Plans the task, hires workers within the budget, and returns the full execution trace.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RunTaskRequest `json:"body"`
	}) (*struct {
		Body domain.ExecutionTrace `json:"body"`
	}, error) {
		requesterID, authErr := requesterIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if strings.TrimSpace(input.Body.Task) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "task is required", nil)
		}
		budget := cfg.DefaultBudget
		if input.Body.BudgetLimit != nil {
			budget = *input.Body.BudgetLimit
		}
		trace, err := c.Run(ctx, requesterID, input.Body.Task, budget)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExecutionTrace `json:"body"`
		}{Body: trace}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List recent tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []TaskSummaryResponse `json:"body"`
	}, error) {
		if _, authErr := requesterIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := c.Repo.ListTraces(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskSummaryResponse `json:"body"`
		}{Body: mapTaskSummaries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task trace",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body domain.ExecutionTrace `json:"body"`
	}, error) {
		if _, authErr := requesterIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		trace, err := c.Repo.GetTrace(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExecutionTrace `json:"body"`
		}{Body: trace}, nil
	})
}

func registerWorkers(api huma.API, c *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/registry",
		Summary:     "List registry workers",
		Description: "Returns workers with current reputation and efficiency. Active entries only unless all=true. Registration order by default; sort=efficiency ranks as the hiring step would.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Category string `query:"category"`
		All      bool   `query:"all"`
		Sort     string `query:"sort" enum:"efficiency,price,reputation"`
	}) (*struct {
		Body []domain.WorkerEntry `json:"body"`
	}, error) {
		if _, authErr := requesterIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		var (
			workers []domain.WorkerEntry
			err     error
		)
		if input.All {
			workers, err = c.Registry.List(ctx, input.Category)
		} else {
			workers, err = c.Registry.ListActive(ctx, input.Category)
		}
		if err != nil {
			return nil, handleError(err)
		}
		sortWorkers(workers, input.Sort)
		return &struct {
			Body []domain.WorkerEntry `json:"body"`
		}{Body: workers}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/registry/{worker_id}",
		Summary:     "Get registry worker",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body domain.WorkerEntry `json:"body"`
	}, error) {
		if _, authErr := requesterIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		w, err := c.Registry.Get(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkerEntry `json:"body"`
		}{Body: w}, nil
	})
}

// sortWorkers reorders in place. Empty key keeps registration order.
func sortWorkers(workers []domain.WorkerEntry, key string) {
	switch key {
	case "efficiency":
		sort.SliceStable(workers, func(i, j int) bool { return workers[i].Efficiency > workers[j].Efficiency })
	case "price":
		sort.SliceStable(workers, func(i, j int) bool { return workers[i].PriceUnits < workers[j].PriceUnits })
	case "reputation":
		sort.SliceStable(workers, func(i, j int) bool { return workers[i].Reputation > workers[j].Reputation })
	}
}

func registerLedger(api huma.API, c *coordinator.Coordinator) {
	huma.Register(api, huma.Operation{
		OperationID: "list-ledger",
		Method:      http.MethodGet,
		Path:        "/ledger",
		Summary:     "List settlement records",
		Description: "Returns the most recent settlement records, newest first.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.SettlementRecord `json:"body"`
	}, error) {
		if _, authErr := requesterIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		records, err := c.Ledger.Recent(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.SettlementRecord `json:"body"`
		}{Body: records}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-settlement",
		Method:      http.MethodGet,
		Path:        "/ledger/{id}",
		Summary:     "Get settlement record",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.SettlementRecord `json:"body"`
	}, error) {
		if _, authErr := requesterIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		rec, err := c.Ledger.Get(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SettlementRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerEvents(api huma.API, broker *events.Broker) {
	sse.Register(api, huma.Operation{
		OperationID: "stream-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Live event stream",
		Description: "Server-sent events: step, payment, delegated-hire, done, error. Settlement events arrive in ledger id order. Reconnecting with the same client_id replaces the previous stream.",
	}, map[string]any{
		events.EventStep:          events.StepEvent{},
		events.EventPayment:       events.PaymentEvent{},
		events.EventDelegatedHire: events.DelegatedHireEvent{},
		events.EventDone:          events.DoneEvent{},
		events.EventError:         events.ErrorEvent{},
	}, func(ctx context.Context, input *struct {
		ClientID string `query:"client_id"`
	}, send sse.Sender) {
		clientID := input.ClientID
		if clientID == "" {
			clientID = uuid.NewString()
		}
		ch, cancel := broker.Subscribe(clientID)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := send.Data(ev.Payload); err != nil {
					return
				}
			}
		}
	})
}

func registerKeys(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/keys",
		Summary:       "Create API key",
		Description:   "Returns the plaintext key once; only its hash is stored.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		requesterID, authErr := requesterIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plaintext := "hk_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		key := domain.APIKey{
			ID:          uuid.NewString(),
			RequesterID: requesterID,
			Name:        input.Body.Name,
			KeyHash:     repo.HashAPIKey(plaintext),
			CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = plaintext
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		requesterID, authErr := requesterIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := r.ListAPIKeys(ctx, requesterID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/keys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := requesterIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := r.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
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
    <title>Hireline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
