package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"preptracker/internal/api/middleware"
	"preptracker/internal/config"
	"preptracker/internal/model"

	"github.com/gin-gonic/gin"
)

const testSecret = "test-secret"

func testConfig() *config.Config {
	return &config.Config{
		Security: config.SecurityConfig{
			JWTSecret:  testSecret,
			SessionTTL: time.Hour,
			CookieName: "preptracker_session",
		},
		CORS: config.CORSConfig{AllowOrigins: []string{"http://localhost:3000"}},
	}
}

type testEnv struct {
	t      *testing.T
	store  *memStore
	server *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &testEnv{t: t, store: st, server: newServer(testConfig(), logger, st, nil)}
}

func (e *testEnv) tokenFor(userID string) string {
	e.t.Helper()
	token, err := middleware.IssueToken([]byte(testSecret), userID, userID+"@example.com", time.Hour)
	if err != nil {
		e.t.Fatalf("issue token: %v", err)
	}
	return token
}

// do 以 userID 身份发起请求；userID 为空时不带凭证。
func (e *testEnv) do(method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			e.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokenFor(userID))
	}
	w := httptest.NewRecorder()
	e.server.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

type errorBody struct {
	Error   string              `json:"error"`
	Details map[string][]string `json:"details"`
}

type pageBody struct {
	Items      []map[string]interface{} `json:"items"`
	TotalCount int64                    `json:"totalCount"`
	TotalPages int                      `json:"totalPages"`
	Page       int                      `json:"page"`
	PageSize   int                      `json:"pageSize"`
}

func (e *testEnv) createCompany(userID, name string) string {
	e.t.Helper()
	w := e.do(http.MethodPost, "/api/companies", userID, map[string]string{"name": name, "role": "SWE"})
	if w.Code != http.StatusCreated {
		e.t.Fatalf("create company: %d %s", w.Code, w.Body.String())
	}
	var c model.Company
	decode(e.t, w, &c)
	return c.ID
}

func (e *testEnv) createTask(userID string, body map[string]interface{}) *httptest.ResponseRecorder {
	e.t.Helper()
	req := map[string]interface{}{
		"title":   "Arrays drill",
		"type":    "DSA",
		"topic":   "arrays",
		"dueDate": "2026-03-01",
	}
	for k, v := range body {
		req[k] = v
	}
	return e.do(http.MethodPost, "/api/tasks", userID, req)
}

func TestRoutes_RequireSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/companies", "/api/tasks", "/api/dashboard", "/api/auth/session"} {
		w := env.do(http.MethodGet, path, "", nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, w.Code)
		}
		var body errorBody
		decode(t, w, &body)
		if body.Error != "Unauthorized" {
			t.Fatalf("%s: unexpected error %q", path, body.Error)
		}
	}
}

func TestCreateCompany_MissingNameAndRole(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/companies", "u1", map[string]string{"name": "", "role": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body errorBody
	decode(t, w, &body)
	if body.Error != "Validation failed" {
		t.Fatalf("unexpected error %q", body.Error)
	}
	if len(body.Details["name"]) == 0 || len(body.Details["role"]) == 0 {
		t.Fatalf("expected details for name and role, got %v", body.Details)
	}
}

func TestCreateCompany_MalformedJSON(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/companies", "u1", `{"name":`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body errorBody
	decode(t, w, &body)
	if len(body.Details["body"]) == 0 {
		t.Fatalf("expected body detail, got %v", body.Details)
	}
}

func TestCompanyLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	id := env.createCompany("u1", "Acme")

	w := env.do(http.MethodGet, "/api/companies/"+id, "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: %d", w.Code)
	}
	var detail map[string]interface{}
	decode(t, w, &detail)
	tasks, ok := detail["tasks"].([]interface{})
	if !ok || len(tasks) != 0 {
		t.Fatalf("expected empty tasks array, got %v", detail["tasks"])
	}
	if detail["name"] != "Acme" {
		t.Fatalf("unexpected name %v", detail["name"])
	}

	w = env.do(http.MethodDelete, "/api/companies/"+id, "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	var msg map[string]string
	decode(t, w, &msg)
	if msg["message"] != "Deleted" {
		t.Fatalf("unexpected message %v", msg)
	}

	w = env.do(http.MethodGet, "/api/companies/"+id, "u1", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestUpdateCompany(t *testing.T) {
	env := newTestEnv(t)
	id := env.createCompany("u1", "Acme")

	w := env.do(http.MethodPatch, "/api/companies/"+id, "u1", map[string]string{"location": "Remote"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: %d %s", w.Code, w.Body.String())
	}
	c, _ := env.store.GetCompany(context.Background(), "u1", id)
	if c.Location == nil || *c.Location != "Remote" || c.Name != "Acme" {
		t.Fatalf("unexpected company after patch: %+v", c)
	}

	w = env.do(http.MethodPatch, "/api/companies/"+id, "u1", map[string]string{"name": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty name patch: expected 400, got %d", w.Code)
	}
}

func TestForeignRecords_AreNotFound(t *testing.T) {
	env := newTestEnv(t)
	companyID := env.createCompany("owner", "Acme")
	w := env.createTask("owner", nil)
	var task model.Task
	decode(t, w, &task)

	cases := []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodGet, "/api/companies/" + companyID, nil},
		{http.MethodPatch, "/api/companies/" + companyID, map[string]string{"name": "Hijack"}},
		{http.MethodDelete, "/api/companies/" + companyID, nil},
		{http.MethodPatch, "/api/tasks/" + task.ID, map[string]string{"title": "Hijack"}},
		{http.MethodDelete, "/api/tasks/" + task.ID, nil},
		{http.MethodDelete, "/api/tasks/does-not-exist", nil},
	}
	for _, tc := range cases {
		w := env.do(tc.method, tc.path, "intruder", tc.body)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404, got %d", tc.method, tc.path, w.Code)
		}
		var body errorBody
		decode(t, w, &body)
		if body.Error != "Not found" {
			t.Fatalf("%s %s: unexpected error %q", tc.method, tc.path, body.Error)
		}
	}

	c, err := env.store.GetCompany(context.Background(), "owner", companyID)
	if err != nil || c.Name != "Acme" {
		t.Fatalf("owner company changed: %+v %v", c, err)
	}
}

func TestCreateTask_DefaultsToTodo(t *testing.T) {
	env := newTestEnv(t)
	w := env.createTask("u1", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	var task model.Task
	decode(t, w, &task)
	if task.Status != model.StatusTodo {
		t.Fatalf("expected TODO, got %q", task.Status)
	}
	if !task.DueDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected due date %v", task.DueDate)
	}
}

func TestCreateTask_ForeignCompanyRejected(t *testing.T) {
	env := newTestEnv(t)
	foreign := env.createCompany("other", "Globex")

	w := env.createTask("u1", map[string]interface{}{"companyId": foreign})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body errorBody
	decode(t, w, &body)
	if body.Error != "Company not found or not permitted" {
		t.Fatalf("unexpected error %q", body.Error)
	}
	if env.store.taskCount() != 0 {
		t.Fatalf("expected nothing written")
	}
}

func TestCreateTask_InvalidFields(t *testing.T) {
	env := newTestEnv(t)
	w := env.createTask("u1", map[string]interface{}{"dueDate": "01/03/2026", "status": "BLOCKED", "title": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body errorBody
	decode(t, w, &body)
	for _, field := range []string{"dueDate", "status", "title"} {
		if len(body.Details[field]) == 0 {
			t.Fatalf("expected detail for %s, got %v", field, body.Details)
		}
	}
}

func TestUpdateTask_CompanyLinkAndUnlink(t *testing.T) {
	env := newTestEnv(t)
	companyID := env.createCompany("u1", "Acme")
	w := env.createTask("u1", nil)
	var task model.Task
	decode(t, w, &task)

	w = env.do(http.MethodPatch, "/api/tasks/"+task.ID, "u1", map[string]interface{}{"companyId": companyID, "status": "IN_PROGRESS"})
	if w.Code != http.StatusOK {
		t.Fatalf("link: %d %s", w.Code, w.Body.String())
	}
	stored := env.store.tasks[task.ID]
	if stored.CompanyID == nil || *stored.CompanyID != companyID || stored.Status != model.StatusInProgress {
		t.Fatalf("unexpected task after link: %+v", stored)
	}

	w = env.do(http.MethodPatch, "/api/tasks/"+task.ID, "u1", `{"companyId":null}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unlink: %d %s", w.Code, w.Body.String())
	}
	if env.store.tasks[task.ID].CompanyID != nil {
		t.Fatalf("expected company unlinked")
	}

	foreign := env.createCompany("other", "Globex")
	w = env.do(http.MethodPatch, "/api/tasks/"+task.ID, "u1", map[string]interface{}{"companyId": foreign})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("foreign link: expected 400, got %d", w.Code)
	}
}

func TestListTasks_PaginationScenario(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 12; i++ {
		due := time.Date(2026, 3, 1+i, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
		if w := env.createTask("u1", map[string]interface{}{"dueDate": due}); w.Code != http.StatusCreated {
			t.Fatalf("create %d: %d", i, w.Code)
		}
	}

	w := env.do(http.MethodGet, "/api/tasks?page=2&pageSize=5", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d", w.Code)
	}
	var page pageBody
	decode(t, w, &page)
	if len(page.Items) != 5 || page.Page != 2 || page.TotalPages != 3 || page.TotalCount != 12 {
		t.Fatalf("unexpected page: items=%d page=%d totalPages=%d total=%d",
			len(page.Items), page.Page, page.TotalPages, page.TotalCount)
	}

	w = env.do(http.MethodGet, "/api/tasks?page=9&pageSize=1000", "u1", nil)
	decode(t, w, &page)
	if w.Code != http.StatusOK || len(page.Items) != 0 || page.PageSize != 75 || page.TotalPages != 1 {
		t.Fatalf("past-end page: code=%d items=%d size=%d pages=%d", w.Code, len(page.Items), page.PageSize, page.TotalPages)
	}

	w = env.do(http.MethodGet, "/api/tasks?page=-3&pageSize=0", "u1", nil)
	decode(t, w, &page)
	if page.Page != 1 || page.PageSize != 1 || len(page.Items) != 1 {
		t.Fatalf("clamped page: page=%d size=%d items=%d", page.Page, page.PageSize, len(page.Items))
	}
}

func TestListTasks_ServerFilterAndCompanyName(t *testing.T) {
	env := newTestEnv(t)
	companyID := env.createCompany("u1", "Acme")
	env.createTask("u1", map[string]interface{}{"companyId": companyID, "status": "DONE"})
	env.createTask("u1", map[string]interface{}{"type": "HR"})
	env.createTask("u1", nil)

	w := env.do(http.MethodGet, "/api/tasks?status=DONE", "u1", nil)
	var page pageBody
	decode(t, w, &page)
	if page.TotalCount != 1 || len(page.Items) != 1 {
		t.Fatalf("expected filtered count 1, got %d", page.TotalCount)
	}
	company, ok := page.Items[0]["company"].(map[string]interface{})
	if !ok || company["name"] != "Acme" || company["id"] != companyID {
		t.Fatalf("expected company ref, got %v", page.Items[0]["company"])
	}

	w = env.do(http.MethodGet, "/api/tasks?type=hr", "u1", nil)
	decode(t, w, &page)
	if page.TotalCount != 1 || page.Items[0]["company"] != nil {
		t.Fatalf("type filter: total=%d company=%v", page.TotalCount, page.Items[0]["company"])
	}

	w = env.do(http.MethodGet, "/api/tasks?status=BLOCKED", "u1", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid status filter: expected 400, got %d", w.Code)
	}
}

func TestListCompanies_ScopedToOwner(t *testing.T) {
	env := newTestEnv(t)
	env.createCompany("u1", "Acme")
	env.createCompany("u1", "Globex")
	env.createCompany("u2", "Initech")

	w := env.do(http.MethodGet, "/api/companies", "u1", nil)
	var page pageBody
	decode(t, w, &page)
	if page.TotalCount != 2 || page.Items[0]["name"] != "Globex" {
		t.Fatalf("unexpected companies: %+v", page)
	}
}

func TestStoreFailure_IsInternalError(t *testing.T) {
	env := newTestEnv(t)
	env.store.failWith = errors.New("connection refused")

	w := env.do(http.MethodGet, "/api/tasks", "u1", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	var body errorBody
	decode(t, w, &body)
	if body.Error != "Internal server error" {
		t.Fatalf("unexpected error %q", body.Error)
	}
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	companyID := env.createCompany("u1", "Acme")
	env.createTask("u1", map[string]interface{}{"status": "DONE", "dueDate": "2026-03-01"})
	env.createTask("u1", map[string]interface{}{"status": "IN_PROGRESS", "dueDate": "2026-03-03", "companyId": companyID})
	env.createTask("u1", map[string]interface{}{"dueDate": "2026-03-02"})

	w := env.do(http.MethodGet, "/api/dashboard", "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: %d", w.Code)
	}
	var body struct {
		model.TaskStats
		UpcomingTasks []upcomingTask `json:"upcomingTasks"`
	}
	decode(t, w, &body)
	if body.TotalCompanies != 1 || body.TotalTasks != 3 || body.DoneTasks != 1 || body.TodoTasks != 1 || body.InProgressTasks != 1 {
		t.Fatalf("unexpected stats: %+v", body.TaskStats)
	}
	if len(body.UpcomingTasks) != 2 {
		t.Fatalf("expected 2 upcoming, got %d", len(body.UpcomingTasks))
	}
	if body.UpcomingTasks[0].CompanyName != nil {
		t.Fatalf("first upcoming task has no company")
	}
	if body.UpcomingTasks[1].CompanyName == nil || *body.UpcomingTasks[1].CompanyName != "Acme" {
		t.Fatalf("expected company name on second upcoming task")
	}
}

func TestSignupAndSessionRoutes(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, "/api/auth/signup", "", map[string]string{"name": "A", "email": "a@example.com", "password": "secret"})
	if w.Code != http.StatusCreated {
		t.Fatalf("signup: %d %s", w.Code, w.Body.String())
	}
	var created map[string]string
	decode(t, w, &created)

	w = env.do(http.MethodGet, "/api/auth/session", created["userId"], nil)
	if w.Code != http.StatusOK {
		t.Fatalf("session: %d %s", w.Code, w.Body.String())
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(ctx context.Context, id string) (bool, time.Duration, error) {
	return false, 3 * time.Second, nil
}

func TestAuthRoutes_RateLimited(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := newServer(testConfig(), logger, newMemStore(), denyLimiter{})

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(`{"email":"a@example.com","password":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "3" {
		t.Fatalf("unexpected Retry-After %q", w.Header().Get("Retry-After"))
	}
}

func TestHealthz_WithoutBackends(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodGet, "/healthz", "", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestSeedDemoData_Idempotent(t *testing.T) {
	st := newMemStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 2; i++ {
		if err := seedDemoData(context.Background(), st, now); err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
	}
	if len(st.users) != 1 || len(st.companies) != len(demoCompanies) {
		t.Fatalf("unexpected seed counts: users=%d companies=%d", len(st.users), len(st.companies))
	}
	want := 0
	for _, c := range demoCompanies {
		want += len(c.tasks)
	}
	if st.taskCount() != want {
		t.Fatalf("expected %d tasks, got %d", want, st.taskCount())
	}
}
