package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/bugflow/internal/alert"
	"github.com/joescharf/bugflow/internal/clock"
	"github.com/joescharf/bugflow/internal/models"
	"github.com/joescharf/bugflow/internal/report"
	"github.com/joescharf/bugflow/internal/store"
	"github.com/joescharf/bugflow/internal/workflow"
)

var (
	admin  = models.ActingUser{Email: "admin@example.com", Role: models.RoleAdmin}
	lead   = models.ActingUser{Email: "lead@example.com", Role: models.RoleTeamLead}
	dev    = models.ActingUser{Email: "dev@example.com", Role: models.RoleDeveloper}
	tester = models.ActingUser{Email: "qa@example.com", Role: models.RoleTester}
	rita   = models.ActingUser{Email: "rita@example.com", Role: models.RoleReporter}
)

type testServer struct {
	router http.Handler
	engine *workflow.Engine
	clock  *clock.Fake
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	c := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	engine := workflow.NewEngine(s, c, nil)
	srv := NewServer(engine, nil)

	return &testServer{router: srv.Router(), engine: engine, clock: c}
}

func (ts *testServer) do(t *testing.T, method, path string, as models.ActingUser, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if as.Email != "" {
		req.Header.Set(HeaderUserEmail, as.Email)
	}
	if as.Role != "" {
		req.Header.Set(HeaderUserRole, string(as.Role))
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) report(t *testing.T, p models.Priority) *models.Bug {
	t.Helper()
	w := ts.do(t, "POST", "/api/v1/bugs", rita, map[string]string{
		"title":       "Checkout button unresponsive",
		"application": "storefront",
		"priority":    string(p),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var b models.Bug
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return &b
}

func (ts *testServer) move(t *testing.T, id string, to models.Status) *httptest.ResponseRecorder {
	t.Helper()
	return ts.do(t, "POST", "/api/v1/bugs/"+id+"/status", admin, map[string]string{"status": string(to)})
}

func (ts *testServer) close(t *testing.T, id string) {
	t.Helper()
	for _, s := range models.Statuses[1:9] {
		w := ts.move(t, id, s)
		require.Equal(t, http.StatusOK, w.Code, "move to %s: %s", s, w.Body.String())
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	return e
}

func TestListBugs_Empty(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, "GET", "/api/v1/bugs", models.ActingUser{}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var views []workflow.BugView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Empty(t, views)
}

func TestReportAndGet(t *testing.T) {
	ts := setupTestServer(t)
	b := ts.report(t, models.PriorityMedium)
	assert.Equal(t, "BUG-1", b.ID)
	assert.Equal(t, models.StatusOpen, b.Status)
	assert.Equal(t, rita.Email, b.ReportedBy)

	w := ts.do(t, "GET", "/api/v1/bugs/bug-1", rita, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var view map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "BUG-1", view["bugId"])
	assert.Equal(t, false, view["favorite"])
	assert.Contains(t, view, "alerts")

	w = ts.do(t, "GET", "/api/v1/bugs/BUG-9", rita, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, workflow.KindNotFound, decodeError(t, w).Kind)
}

func TestReport_ClassifiesWhenPriorityOmitted(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, "POST", "/api/v1/bugs", rita, map[string]string{
		"title":       "App crashes on checkout",
		"application": "storefront",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var b models.Bug
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	assert.Equal(t, models.PriorityCritical, b.Priority)
}

func TestReport_Validation(t *testing.T) {
	ts := setupTestServer(t)

	w := ts.do(t, "POST", "/api/v1/bugs", models.ActingUser{}, map[string]string{"title": "x", "priority": "Low"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/api/v1/bugs", rita, map[string]string{"title": "x", "priority": "Urgent"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", "/api/v1/bugs", rita, map[string]string{"title": " ", "priority": "Low"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, workflow.KindValidation, decodeError(t, w).Kind)

	req := httptest.NewRequest("POST", "/api/v1/bugs", bytes.NewBufferString("{not json"))
	req.Header.Set(HeaderUserEmail, rita.Email)
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMove_ErrorMapping(t *testing.T) {
	ts := setupTestServer(t)
	b := ts.report(t, models.PriorityCritical)

	// Skipping a stage.
	w := ts.move(t, b.ID, models.StatusFixed)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, workflow.KindInvalidTransition, decodeError(t, w).Kind)

	// Role gate.
	w = ts.do(t, "POST", "/api/v1/bugs/"+b.ID+"/status", rita, map[string]string{"status": string(models.StatusAssigned)})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, workflow.KindForbidden, decodeError(t, w).Kind)

	// Unknown status.
	w = ts.move(t, b.ID, "Shipped")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Critical bugs may not skip Ready For Closure.
	for _, s := range models.Statuses[1:7] {
		require.Equal(t, http.StatusOK, ts.move(t, b.ID, s).Code)
	}
	w = ts.move(t, b.ID, models.StatusClosed)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, workflow.KindPolicyViolation, decodeError(t, w).Kind)

	w = ts.do(t, "GET", "/api/v1/bugs/"+b.ID+"/history", rita, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []models.BugEvent
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.Len(t, events, 6)
}

func TestAssignTeamAndHours(t *testing.T) {
	ts := setupTestServer(t)
	b := ts.report(t, models.PriorityLow)
	path := "/api/v1/bugs/" + b.ID

	w := ts.do(t, "POST", path+"/assign", dev, map[string]string{"role": "developer", "email": dev.Email})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "POST", path+"/assign", lead, map[string]string{"role": "developer", "email": dev.Email})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = ts.do(t, "POST", path+"/assign", lead, map[string]string{"role": "admin", "email": dev.Email})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", path+"/team", lead, map[string]string{"team": "payments"})
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Bug
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "payments", got.AssignedTeam)
	assert.Equal(t, dev.Email, got.AssignedTo.Developer)

	// Developers log their own hours only.
	w = ts.do(t, "POST", path+"/hours", dev, map[string]any{"hours": 2.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = ts.do(t, "POST", path+"/hours", dev, map[string]any{"role": "tester", "hours": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = ts.do(t, "POST", path+"/hours", dev, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = ts.do(t, "POST", path+"/hours", admin, map[string]any{"role": "tester", "hours": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReallocationFlow(t *testing.T) {
	ts := setupTestServer(t)
	b := ts.report(t, models.PriorityHigh)
	path := "/api/v1/bugs/" + b.ID + "/reallocations"

	w := ts.do(t, "POST", path, rita, map[string]string{"reason": "not my area at all"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "POST", path, dev, map[string]string{"reason": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", path, dev, map[string]string{"reason": "overloaded this sprint"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created requestCreated
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.RequestID)

	w = ts.do(t, "POST", path, dev, map[string]string{"reason": "overloaded this sprint"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, workflow.KindConflict, decodeError(t, w).Kind)

	w = ts.do(t, "GET", "/api/v1/requests/pending", lead, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []workflow.BugView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)

	resolve := path + "/" + created.RequestID
	w = ts.do(t, "POST", resolve, dev, map[string]string{"action": "approve", "newAssignee": "dana@example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(t, "POST", resolve, lead, map[string]string{"action": "approve"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = ts.do(t, "POST", resolve, lead, map[string]string{"action": "approve", "newAssignee": "dana@example.com"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Bug
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "dana@example.com", got.AssignedTo.Developer)
	assert.Equal(t, models.StatusOpen, got.Status)

	w = ts.do(t, "POST", resolve, lead, map[string]string{"action": "reject"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, workflow.KindAlreadyResolved, decodeError(t, w).Kind)

	w = ts.do(t, "POST", path+"/nope", lead, map[string]string{"action": "reject"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReopenFlow(t *testing.T) {
	ts := setupTestServer(t)
	b := ts.report(t, models.PriorityHigh)
	path := "/api/v1/bugs/" + b.ID + "/reopen"

	// Not closed yet.
	w := ts.do(t, "POST", path, tester, map[string]string{"reason": "regressed after deploy"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, workflow.KindInvalidState, decodeError(t, w).Kind)
	w = ts.do(t, "POST", path, tester, map[string]string{"reason": "short"})
	assert.Equal(t, http.StatusConflict, w.Code)

	ts.close(t, b.ID)

	w = ts.do(t, "POST", path, tester, map[string]string{"reason": "regressed after deploy"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created requestCreated
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = ts.do(t, "POST", path+"/"+created.RequestID, admin, map[string]string{"action": "Approved"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Bug
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.True(t, got.Reopened)

	w = ts.do(t, "POST", path+"/"+created.RequestID, admin, map[string]string{"action": "maybe"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFavorites_API(t *testing.T) {
	ts := setupTestServer(t)
	ts.report(t, models.PriorityLow)
	second := ts.report(t, models.PriorityLow)

	w := ts.do(t, "POST", "/api/v1/bugs/"+second.ID+"/favorite", rita, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var toggled map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &toggled))
	assert.Equal(t, true, toggled["favorite"])

	w = ts.do(t, "GET", "/api/v1/favorites", rita, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ids []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ids))
	assert.Equal(t, []string{second.ID}, ids)

	// The board lists favorites first for the user who set them.
	w = ts.do(t, "GET", "/api/v1/bugs", rita, nil)
	var views []workflow.BugView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)
	assert.True(t, views[0].Favorite)

	w = ts.do(t, "GET", "/api/v1/bugs", dev, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	assert.Equal(t, "BUG-1", views[0].ID)

	w = ts.do(t, "POST", "/api/v1/bugs/BUG-9/favorite", rita, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListBugs_Filters(t *testing.T) {
	ts := setupTestServer(t)
	ts.report(t, models.PriorityLow)
	high := ts.report(t, models.PriorityHigh)

	w := ts.do(t, "GET", "/api/v1/bugs?priority=high", rita, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []workflow.BugView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, high.ID, views[0].ID)

	w = ts.do(t, "GET", "/api/v1/bugs?status=bogus", rita, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAlerts_API(t *testing.T) {
	ts := setupTestServer(t)
	b := ts.report(t, models.PriorityHigh)

	ts.clock.Advance(45 * time.Minute)
	w := ts.do(t, "GET", "/api/v1/alerts", rita, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var views []workflow.BugView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, b.ID, views[0].ID)

	assert.Equal(t, alert.Low, views[0].Alerts.Unassigned)
	assert.Contains(t, w.Body.String(), `"unassigned":"LOW"`)
}

func TestSLAReport_API(t *testing.T) {
	ts := setupTestServer(t)
	b := ts.report(t, models.PriorityLow)

	w := ts.do(t, "POST", "/api/v1/bugs/"+b.ID+"/hours", dev, map[string]any{"hours": 4})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(t, "GET", "/api/v1/reports/sla", lead, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var breaches []report.Breach
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &breaches))
	require.Len(t, breaches, 1)
	assert.Equal(t, models.RoleDeveloper, breaches[0].Role)
	assert.Equal(t, 4.0, breaches[0].Logged)
}

func TestUnknownRoleHeader(t *testing.T) {
	ts := setupTestServer(t)
	w := ts.do(t, "GET", "/api/v1/bugs", models.ActingUser{Email: "x@example.com", Role: "wizard"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := setupTestServer(t)
	req := httptest.NewRequest("OPTIONS", "/api/v1/bugs", nil)
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), HeaderUserEmail)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(workflow.KindNotFound))
	assert.Equal(t, http.StatusConflict, StatusFor(workflow.KindAlreadyResolved))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(""))
}
