package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"legalmind/internal/domain"
	"legalmind/internal/usecase/multiagent"
)

const maxBodyBytes = 1 << 20

// genericFailure is returned instead of internal error text.
const genericFailure = "The request could not be completed. Please try again."

type errorBody struct {
	Error string           `json:"error"`
	Code  domain.ErrorCode `json:"code"`
}

type startRunRequest struct {
	Query     string            `json:"query"`
	SessionID string            `json:"session_id,omitempty"`
	Profile   string            `json:"profile,omitempty"`
	Template  string            `json:"template,omitempty"`
	Context   map[string]string `json:"context,omitempty"`
}

type startRunResponse struct {
	RunID     string           `json:"run_id"`
	SessionID string           `json:"session_id"`
	Status    domain.RunStatus `json:"status"`
	Mode      domain.RunMode   `json:"mode"`
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
	Profile   string `json:"profile,omitempty"`
}

// ChatResponse is the body of POST /api/v1/chat.
type ChatResponse struct {
	Status    string `json:"status"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
	Reason    string `json:"reason,omitempty"`
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id,omitempty"`
}

type classifyRequest struct {
	Text string `json:"text"`
}

type classifyResponse struct {
	Intent     multiagent.Intent `json:"intent"`
	Confidence float64           `json:"confidence"`
	Agent      domain.AgentID    `json:"agent"`
	Sequence   []domain.AgentID  `json:"sequence,omitempty"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Agents        int    `json:"agents"`
	EventStreams  int64  `json:"event_streams"`
	LLMCalls      *int   `json:"llm_calls_in_window,omitempty"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req startRunRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sum, err := s.deps.Service.StartRun(r.Context(), domain.RunRequest{
		Query:     req.Query,
		SessionID: req.SessionID,
		Profile:   req.Profile,
		Template:  req.Template,
		Context:   req.Context,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, startRunResponse{
		RunID:     sum.RunID,
		SessionID: sum.SessionID,
		Status:    sum.Status,
		Mode:      sum.Mode,
	})
}

// queryLimit reads the optional limit query parameter.
func queryLimit(r *http.Request, op string, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, domain.NewDomainError(op, domain.ErrInvalidInput, "limit must be a non-negative integer")
	}
	return n, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, "httpapi.ListRuns", 20)
	if err != nil {
		s.writeError(w, err)
		return
	}
	runs, err := s.deps.Service.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if runs == nil {
		runs = []domain.RunSummary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Service.GetRunStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Service.RunEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.AgentEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, "httpapi.ListSessions", 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	sessions := []string{}
	if s.deps.EventLog != nil {
		ids, err := s.deps.EventLog.Sessions(r.Context(), limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if ids != nil {
			sessions = ids
		}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.EventLog == nil {
		writeJSON(w, http.StatusOK, []domain.AgentEvent{})
		return
	}
	events, err := s.deps.EventLog.ListSessionEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if events == nil {
		events = []domain.AgentEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleChat runs one message to completion. Failures are reported in the
// body with a generic message and the termination reason.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, ChatResponse{
			Status: "error", Error: "message is required", SessionID: req.SessionID,
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()

	start := time.Now()
	sum, err := s.deps.Service.Execute(ctx, domain.RunRequest{
		Query:     req.Message,
		SessionID: req.SessionID,
		Profile:   req.Profile,
	})
	if err != nil {
		s.logger.Warn("chat run failed",
			"run_id", sum.RunID, "session_id", sum.SessionID,
			"code", domain.ErrorCodeOf(err), "error", err,
			"duration", time.Since(start))

		resp := ChatResponse{
			Status:    "error",
			Error:     genericFailure,
			Reason:    string(domain.ErrorCodeOf(err)),
			SessionID: req.SessionID,
			RunID:     sum.RunID,
		}
		if sum.SessionID != "" {
			resp.SessionID = sum.SessionID
		}
		if sum.Error != "" {
			resp.Error = sum.Error
		}
		if sum.RunID == "" {
			// Rejected before the run started.
			writeJSON(w, statusFor(err), resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		Status:    "success",
		Response:  sum.FinalAnswer,
		Reason:    sum.TerminationReason,
		SessionID: sum.SessionID,
		RunID:     sum.RunID,
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	intent, conf := multiagent.Confidence(req.Text)
	resp := classifyResponse{
		Intent:     intent,
		Confidence: conf,
		Agent:      multiagent.AgentForIntent(intent),
	}
	if seq := multiagent.PlanSequence(req.Text); len(seq) > 1 {
		resp.Sequence = seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Service.ListAgents())
}

func (s *Server) handleTemplates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Service.ListTemplates())
}

func (s *Server) handleProfiles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Service.ListProfiles())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		Version:       s.cfg.Version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Agents:        len(s.deps.Service.ListAgents()),
		EventStreams:  s.streams.Load(),
	}
	if s.deps.Limiter != nil {
		n := s.deps.Limiter.InWindow()
		resp.LLMCalls = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRunSchedule fires a scheduled task now. A run that started and then
// failed is reported through its summary.
func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	sum, err := s.deps.Scheduler.RunNow(r.Context(), r.PathValue("name"))
	if err != nil && sum.RunID == "" {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// decodeBody reads a JSON body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Code: domain.CodeInvalidInput})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Code: domain.ErrorCodeOf(err)}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		body.Error = genericFailure
	}
	writeJSON(w, status, body)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrRunNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnknownProfile),
		errors.Is(err, domain.ErrUnknownTemplate),
		errors.Is(err, domain.ErrEmptyRoster):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrExecutionTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
