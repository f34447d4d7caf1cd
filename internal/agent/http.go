package agent

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/andrej220/stepagent/internal/serverutil"
	"github.com/andrej220/stepagent/pkg/lg"
	"github.com/andrej220/stepagent/pkg/models"
	"github.com/andrej220/stepagent/pkg/workerpool"
)

const (
	JobsPath        = "/jobs"
	InstructionPath = "/instruction"
	HealthPath      = "/healthz"
)

type health struct {
	Status    string `json:"status"`
	Running   int    `json:"running"`
	Workers   int32  `json:"workers"`
	Submitted int64  `json:"submitted"`
}

type instructionResponse struct {
	models.Response
	Changed bool `json:"changed"`
}

// Handler serves job submission, instructions and health checks.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(JobsPath, serverutil.NewValidationHandler[models.JobRequest](http.HandlerFunc(s.handleJob)))
	mux.Handle(InstructionPath, serverutil.NewValidationHandler[models.InstructionMessage](http.HandlerFunc(s.handleInstruction)))
	mux.HandleFunc(HealthPath, s.handleHealth)
	return mux
}

func (s *Service) handleJob(rw http.ResponseWriter, r *http.Request) {
	req, ok := serverutil.RequestFromContext[models.JobRequest](r.Context())
	if !ok {
		http.Error(rw, "Internal server error", http.StatusInternalServerError)
		return
	}
	id, err := s.Submit(req)
	switch {
	case errors.Is(err, ErrDuplicateExecution):
		http.Error(rw, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, workerpool.ErrPoolStopped):
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		s.logger.Error("failed to submit job", lg.Err(err))
		http.Error(rw, "Failed to process request", http.StatusInternalServerError)
		return
	}
	s.writeJSON(rw, http.StatusAccepted, models.Response{ExecutionUID: id})
}

func (s *Service) handleInstruction(rw http.ResponseWriter, r *http.Request) {
	msg, ok := serverutil.RequestFromContext[models.InstructionMessage](r.Context())
	if !ok {
		http.Error(rw, "Internal server error", http.StatusInternalServerError)
		return
	}
	changed, err := s.Instruct(msg)
	if errors.Is(err, ErrUnknownExecution) {
		http.Error(rw, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(rw, http.StatusAccepted, instructionResponse{Response: models.Response{ExecutionUID: msg.ExecutionUID}, Changed: changed})
}

func (s *Service) handleHealth(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(rw, http.StatusOK, health{
		Status:    "ok",
		Running:   s.Running(),
		Workers:   s.pool.ActiveWorkers(),
		Submitted: s.submitted.Load(),
	})
}

func (s *Service) writeJSON(rw http.ResponseWriter, code int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		s.logger.Error("failed to encode response", lg.Err(err))
	}
}
