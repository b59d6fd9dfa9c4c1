// Package server exposes workflows over HTTP. Each workflow is one
// POST operation taking a structured argument object and returning the
// flat key-value result document.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jgwill/mcpservers/pkg/browser"
	"github.com/jgwill/mcpservers/pkg/logging"
	"github.com/jgwill/mcpservers/pkg/metrics"
	"github.com/jgwill/mcpservers/pkg/studio"
	"github.com/jgwill/mcpservers/pkg/workflow"
)

// WorkflowRunner executes one named workflow. *studio.Service
// implements it; tests substitute fakes.
type WorkflowRunner interface {
	Run(ctx context.Context, req studio.Request) (workflow.Result, error)
}

// Deps wires the router's collaborators.
type Deps struct {
	Runner  WorkflowRunner
	Logger  *logging.Logger
	Version string
}

// runRequest is the JSON argument object accepted by every workflow
// operation. Field names are stable across versions.
type runRequest struct {
	TargetURL       string            `json:"target_url"`
	Prompt          string            `json:"prompt"`
	ProjectName     string            `json:"project_name"`
	RepoName        string            `json:"repo_name"`
	RepoDescription string            `json:"repo_description"`
	RepoURL         string            `json:"repo_url"`
	Branch          string            `json:"branch"`
	CommitMessage   string            `json:"commit_message"`
	DeployTarget    string            `json:"deploy_target"`
	LocalPath       string            `json:"local_path"`
	Timeouts        map[string]string `json:"timeouts"`
}

// NewRouter builds the HTTP handler.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log, _ = logging.NewLogger("server")
	}
	metrics.Init()
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(requestLoggingMiddleware(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": version})
	})

	r.Get("/v1/workflows", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"workflows": studio.Workflows()})
	})

	r.Post("/v1/workflows/{name}", func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if !known(name) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown workflow %q", name))
			return
		}

		var body runRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}

		timeouts, err := parseTimeouts(body.Timeouts)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		result, err := deps.Runner.Run(req.Context(), studio.Request{
			Workflow:        name,
			TargetURL:       body.TargetURL,
			Prompt:          body.Prompt,
			ProjectName:     body.ProjectName,
			RepoName:        body.RepoName,
			RepoDescription: body.RepoDescription,
			RepoURL:         body.RepoURL,
			Branch:          body.Branch,
			CommitMessage:   body.CommitMessage,
			DeployTarget:    body.DeployTarget,
			LocalPath:       body.LocalPath,
			Timeouts:        timeouts,
		})
		if err != nil {
			switch {
			case errors.Is(err, workflow.ErrSessionBusy):
				writeError(w, http.StatusConflict, err.Error())
			case errors.Is(err, browser.ErrAuthenticationRequired):
				writeError(w, http.StatusUnauthorized, err.Error())
			case errors.Is(err, studio.ErrInvalidRequest):
				writeError(w, http.StatusBadRequest, err.Error())
			default:
				// Driver or session startup failures are not the
				// caller's fault.
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}

		writeJSON(w, http.StatusOK, result.Fields())
	})

	return r
}

func known(name string) bool {
	for _, w := range studio.Workflows() {
		if w == name {
			return true
		}
	}
	return false
}

func parseTimeouts(raw map[string]string) (map[string]time.Duration, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]time.Duration, len(raw))
	for class, v := range raw {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout for %s: %v", class, err)
		}
		out[class] = d
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestLoggingMiddleware(log *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Infof("%s %s (%v)", r.Method, r.URL.Path, time.Since(start).Truncate(time.Millisecond))
		})
	}
}
