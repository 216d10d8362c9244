package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/joescharf/bugflow/internal/classify"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/report"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

// Headers carrying the acting user. Authentication happens upstream; the
// API trusts whatever identity the fronting proxy forwards.
const (
	HeaderUserEmail = "X-User-Email"
	HeaderUserRole  = "X-User-Role"
)

// Server provides the REST API handlers.
type Server struct {
	engine     *workflow.Engine
	classifier classify.Classifier
}

// NewServer creates a new API server. A nil classifier falls back to keyword rules.
func NewServer(engine *workflow.Engine, classifier classify.Classifier) *Server {
	if classifier == nil {
		classifier = classify.KeywordClassifier{}
	}
	return &Server{engine: engine, classifier: classifier}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/bugs", s.listBugs)
	mux.HandleFunc("POST /api/v1/bugs", s.reportBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}", s.getBug)
	mux.HandleFunc("GET /api/v1/bugs/{id}/history", s.bugHistory)

	mux.HandleFunc("POST /api/v1/bugs/{id}/status", s.moveBug)
	mux.HandleFunc("POST /api/v1/bugs/{id}/assign", s.assignBug)
	mux.HandleFunc("POST /api/v1/bugs/{id}/team", s.assignTeam)
	mux.HandleFunc("POST /api/v1/bugs/{id}/hours", s.logHours)

	mux.HandleFunc("POST /api/v1/bugs/{id}/reallocations", s.requestReallocation)
	mux.HandleFunc("POST /api/v1/bugs/{id}/reallocations/{rid}", s.resolveReallocation)
	mux.HandleFunc("POST /api/v1/bugs/{id}/reopen", s.requestReopen)
	mux.HandleFunc("POST /api/v1/bugs/{id}/reopen/{rid}", s.resolveReopen)

	mux.HandleFunc("POST /api/v1/bugs/{id}/favorite", s.toggleFavorite)
	mux.HandleFunc("GET /api/v1/favorites", s.listFavorites)

	mux.HandleFunc("GET /api/v1/requests/pending", s.pendingRequests)
	mux.HandleFunc("GET /api/v1/alerts", s.listAlerts)
	mux.HandleFunc("GET /api/v1/reports/sla", s.slaReport)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+HeaderUserEmail+", "+HeaderUserRole)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string        `json:"error"`
	Kind  workflow.Kind `json:"kind,omitempty"`
}

// StatusFor maps a workflow error kind to its HTTP status.
func StatusFor(kind workflow.Kind) int {
	switch kind {
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindValidation:
		return http.StatusBadRequest
	case workflow.KindForbidden:
		return http.StatusForbidden
	case workflow.KindConflict, workflow.KindAlreadyResolved, workflow.KindInvalidState:
		return http.StatusConflict
	case workflow.KindInvalidTransition, workflow.KindPolicyViolation:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	var we *workflow.Error
	if errors.As(err, &we) {
		writeJSON(w, StatusFor(we.Kind), errorBody{Error: we.Error(), Kind: we.Kind})
		return
	}
	slog.Error("api request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg, Kind: workflow.KindValidation})
}

// actor reads the acting user from the request headers. An absent role is
// treated as reporter.
func actor(r *http.Request) (models.ActingUser, error) {
	u := models.ActingUser{Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)), Role: models.RoleReporter}
	if v := r.Header.Get(HeaderUserRole); v != "" {
		role, ok := models.ParseRole(v)
		if !ok {
			return u, &workflow.Error{Kind: workflow.KindValidation, Msg: "unknown role " + strconv.Quote(v)}
		}
		u.Role = role
	}
	return u, nil
}

// requireActor is actor plus a mandatory email.
func requireActor(r *http.Request) (models.ActingUser, error) {
	u, err := actor(r)
	if err != nil {
		return u, err
	}
	if u.Email == "" {
		return u, &workflow.Error{Kind: workflow.KindValidation, Msg: HeaderUserEmail + " header is required"}
	}
	return u, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid JSON")
		return false
	}
	return true
}

// --- Bugs ---

func listFilter(r *http.Request) (store.BugListFilter, error) {
	q := r.URL.Query()
	f := store.BugListFilter{
		Application: q.Get("application"),
		Team:        q.Get("team"),
		Assignee:    q.Get("assignee"),
	}
	if v := q.Get("status"); v != "" {
		st, ok := models.ParseStatus(v)
		if !ok {
			return f, &workflow.Error{Kind: workflow.KindValidation, Msg: "unknown status " + strconv.Quote(v)}
		}
		f.Status = st
	}
	if v := q.Get("priority"); v != "" {
		p, ok := models.ParsePriority(v)
		if !ok {
			return f, &workflow.Error{Kind: workflow.KindValidation, Msg: "unknown priority " + strconv.Quote(v)}
		}
		f.Priority = p
	}
	f.Active, _ = strconv.ParseBool(q.Get("active"))
	return f, nil
}

func (s *Server) listBugs(w http.ResponseWriter, r *http.Request) {
	u, err := actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	filter, err := listFilter(r)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.engine.Board(r.Context(), filter, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

type reportRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Application string `json:"application"`
	Team        string `json:"team"`
	Priority    string `json:"priority"`
}

func (s *Server) reportBug(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body reportRequest
	if !decode(w, r, &body) {
		return
	}

	var prio models.Priority
	if body.Priority != "" {
		p, ok := models.ParsePriority(body.Priority)
		if !ok {
			badRequest(w, "unknown priority "+strconv.Quote(body.Priority))
			return
		}
		prio = p
	} else {
		prio, err = s.classifier.Classify(r.Context(), body.Title, body.Description)
		if err != nil {
			writeError(w, err)
			return
		}
	}

	b, err := s.engine.Report(r.Context(), workflow.NewBug{
		Title:       body.Title,
		Description: body.Description,
		Application: body.Application,
		Team:        body.Team,
		Priority:    prio,
	}, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) getBug(w http.ResponseWriter, r *http.Request) {
	u, err := actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	b, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.engine.View(r.Context(), b, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) bugHistory(w http.ResponseWriter, r *http.Request) {
	events, err := s.engine.History(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) moveBug(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if !decode(w, r, &body) {
		return
	}
	target, ok := models.ParseStatus(body.Status)
	if !ok {
		badRequest(w, "unknown status "+strconv.Quote(body.Status))
		return
	}
	if err := workflow.CheckTransition(u, target); err != nil {
		writeError(w, err)
		return
	}

	b, err := s.engine.RequestTransition(r.Context(), r.PathValue("id"), target, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func parseWorkRole(v string) (models.Role, bool) {
	role, ok := models.ParseRole(v)
	return role, ok && role.WorkRole()
}

func (s *Server) assignBug(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !workflow.MayManage(u.Role) {
		writeError(w, workflow.Forbidden("assign", "role %q may not assign bugs", u.Role))
		return
	}
	var body struct {
		Role  string `json:"role"`
		Email string `json:"email"`
	}
	if !decode(w, r, &body) {
		return
	}
	role, ok := parseWorkRole(body.Role)
	if !ok {
		badRequest(w, "role must be developer or tester")
		return
	}

	b, err := s.engine.Assign(r.Context(), r.PathValue("id"), role, body.Email, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) assignTeam(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !workflow.MayManage(u.Role) {
		writeError(w, workflow.Forbidden("team", "role %q may not route bugs", u.Role))
		return
	}
	var body struct {
		Team string `json:"team"`
	}
	if !decode(w, r, &body) {
		return
	}

	b, err := s.engine.AssignTeam(r.Context(), r.PathValue("id"), body.Team, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) logHours(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Role  string   `json:"role"`
		Hours *float64 `json:"hours"`
	}
	if !decode(w, r, &body) {
		return
	}
	role := u.Role
	if body.Role != "" {
		var ok bool
		if role, ok = parseWorkRole(body.Role); !ok {
			badRequest(w, "role must be developer or tester")
			return
		}
	}
	if body.Hours == nil {
		badRequest(w, "hours is required")
		return
	}
	if !workflow.MayLogHours(u.Role, role) {
		writeError(w, workflow.Forbidden("hours", "role %q may not log %s hours", u.Role, role))
		return
	}

	b, err := s.engine.LogHours(r.Context(), r.PathValue("id"), role, *body.Hours, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- Requests ---

type requestBody struct {
	Reason string `json:"reason"`
}

type resolveBody struct {
	Action      string `json:"action"`
	NewAssignee string `json:"newAssignee"`
}

// requestCreated echoes the bug and the ID of the request just filed.
type requestCreated struct {
	Bug       *models.Bug `json:"bug"`
	RequestID string      `json:"requestId"`
}

func (s *Server) requestReallocation(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !workflow.MayRequestReallocation(u.Role) {
		writeError(w, workflow.Forbidden("request reallocation", "role %q cannot be reallocated", u.Role))
		return
	}
	var body requestBody
	if !decode(w, r, &body) {
		return
	}

	b, err := s.engine.RequestReallocation(r.Context(), r.PathValue("id"), u.Role, u.Email, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeCreated(w, b, models.RequestKindReallocation, u.Email)
}

func (s *Server) resolveReallocation(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !workflow.MayResolve(u.Role) {
		writeError(w, workflow.Forbidden("resolve reallocation", "role %q may not resolve requests", u.Role))
		return
	}
	var body resolveBody
	if !decode(w, r, &body) {
		return
	}
	action, _ := models.ParseDecision(body.Action)
	if action == "" {
		action = models.RequestStatus(body.Action)
	}

	b, err := s.engine.ResolveReallocation(r.Context(), r.PathValue("id"), r.PathValue("rid"), action, body.NewAssignee, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) requestReopen(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !workflow.MayRequestReopen(u.Role) {
		writeError(w, workflow.Forbidden("request reopen", "role %q may not request a reopen", u.Role))
		return
	}
	var body requestBody
	if !decode(w, r, &body) {
		return
	}

	b, err := s.engine.RequestReopen(r.Context(), r.PathValue("id"), u, body.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	s.writeCreated(w, b, models.RequestKindReopen, u.Email)
}

func (s *Server) resolveReopen(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !workflow.MayResolve(u.Role) {
		writeError(w, workflow.Forbidden("resolve reopen", "role %q may not resolve requests", u.Role))
		return
	}
	var body resolveBody
	if !decode(w, r, &body) {
		return
	}
	action, _ := models.ParseDecision(body.Action)
	if action == "" {
		action = models.RequestStatus(body.Action)
	}

	b, err := s.engine.ResolveReopen(r.Context(), r.PathValue("id"), r.PathValue("rid"), action, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) writeCreated(w http.ResponseWriter, b *models.Bug, kind models.RequestKind, requester string) {
	out := requestCreated{Bug: b}
	if req, err := workflow.LatestRequest(b, kind, requester); err == nil {
		out.RequestID = req.ID
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) pendingRequests(w http.ResponseWriter, r *http.Request) {
	u, err := actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.engine.Board(r.Context(), store.BugListFilter{PendingRequests: true}, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// --- Favorites ---

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	on, err := s.engine.ToggleFavorite(r.Context(), r.PathValue("id"), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bugId": strings.ToUpper(r.PathValue("id")), "favorite": on})
}

func (s *Server) listFavorites(w http.ResponseWriter, r *http.Request) {
	u, err := requireActor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := s.engine.Favorites(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// --- Alerts & reports ---

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	u, err := actor(r)
	if err != nil {
		writeError(w, err)
		return
	}
	views, err := s.engine.Alerting(r.Context(), u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) slaReport(w http.ResponseWriter, r *http.Request) {
	bugs, err := s.engine.List(r.Context(), store.BugListFilter{})
	if err != nil {
		writeError(w, err)
		return
	}
	breaches := report.SLABreaches(bugs, s.engine.Policy().SLA)
	if breaches == nil {
		breaches = []report.Breach{}
	}
	writeJSON(w, http.StatusOK, breaches)
}
