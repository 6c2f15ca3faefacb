package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iepose/aigcd/internal/domain"
	"github.com/iepose/aigcd/internal/middleware"
)

const maxRequestBody = 4 << 20

type submitResponse struct {
	Tid   string `json:"tid"`
	State string `json:"state"`
	Point int    `json:"point"`
}

// Submit handles POST /infer/{type}: admission plus enqueue. The request
// body is the inference payload, stored and forwarded verbatim.
func (a *App) Submit(w http.ResponseWriter, r *http.Request) {
	ses, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	jobType := domain.JobType(chi.URLParam(r, "type"))
	if !jobType.Valid() {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown inference type")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable request body")
		return
	}
	if !json.Valid(body) {
		a.error(w, http.StatusBadRequest, "bad_request", "request body must be JSON")
		return
	}

	job, err := a.Gateway.Submit(r.Context(), ses.UID, jobType, body)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, submitResponse{
		Tid:   job.Token,
		State: string(job.State),
		Point: job.Cost,
	})
}

// State handles GET /infer/{token}/state.
func (a *App) State(w http.ResponseWriter, r *http.Request) {
	ses, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	token := chi.URLParam(r, "token")

	state, err := a.Gateway.State(r.Context(), ses.UID, token)
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"tid": token, "state": string(state)})
}

// Result handles GET /infer/{token}/result. Terminal jobs answer with the
// stored response verbatim; a job still underway answers 202.
func (a *App) Result(w http.ResponseWriter, r *http.Request) {
	ses, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	token := chi.URLParam(r, "token")

	job, err := a.Gateway.Result(r.Context(), ses.UID, token)
	a.writeResult(w, token, job, err)
}

// ResultWait handles GET /infer/{token}/result/wait?timeout=N: long-poll
// until the job settles or the timeout elapses.
func (a *App) ResultWait(w http.ResponseWriter, r *http.Request) {
	ses, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	token := chi.URLParam(r, "token")
	timeout := a.waitTimeout(r)

	job, err := a.Gateway.Wait(r.Context(), ses.UID, token, timeout)
	a.writeResult(w, token, job, err)
}

func (a *App) waitTimeout(r *http.Request) time.Duration {
	timeout := a.LongPollTimeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}
	}
	if timeout > a.LongPollMaxTimeout {
		timeout = a.LongPollMaxTimeout
	}
	return timeout
}

func (a *App) writeResult(w http.ResponseWriter, token string, job *domain.Job, err error) {
	if err != nil {
		if errors.Is(err, domain.ErrStillWorking) {
			a.json(w, http.StatusAccepted, map[string]any{
				"tid":   token,
				"state": string(job.State),
				"msg":   "inference is working in progress",
			})
			return
		}
		a.domainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(job.Response)
}

// Cancel handles POST /infer/{token}/cancel. Only waiting jobs can be
// canceled; the refund happens before the response is written.
func (a *App) Cancel(w http.ResponseWriter, r *http.Request) {
	ses, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	token := chi.URLParam(r, "token")

	if err := a.Gateway.Cancel(r.Context(), ses.UID, token); err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"tid": token, "state": string(domain.StateCanceled)})
}
