package store

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"preptracker/internal/model"
	"preptracker/internal/pkg/pagination"
	"preptracker/internal/taskfilter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	t.Cleanup(func() {
		sqlDB, err := db.DB()
		if err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db)
}

func mustUser(t *testing.T, s *Store, email string) *model.User {
	t.Helper()
	u := &model.User{Name: email, Email: email, Password: "hash"}
	require.NoError(t, s.CreateUser(context.Background(), u))
	return u
}

func mustCompany(t *testing.T, s *Store, userID, name string) *model.Company {
	t.Helper()
	c := &model.Company{UserID: userID, Name: name, Role: "SWE"}
	require.NoError(t, s.CreateCompany(context.Background(), c))
	return c
}

func mustTask(t *testing.T, s *Store, task model.Task) *model.Task {
	t.Helper()
	if task.Type == "" {
		task.Type = "DSA"
	}
	if task.Topic == "" {
		task.Topic = "arrays"
	}
	require.NoError(t, s.CreateTask(context.Background(), &task))
	return &task
}

func day(n int) time.Time {
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func strPtr(s string) *string { return &s }

func TestCreateUser_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustUser(t, s, "a@example.com")

	err := s.CreateUser(ctx, &model.User{Name: "dup", Email: "a@example.com", Password: "x"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	u, err := s.FindUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)

	_, err = s.FindUserByEmail(ctx, "A@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTasks_PaginationScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	other := mustUser(t, s, "o@example.com")

	for i := 0; i < 12; i++ {
		mustTask(t, s, model.Task{UserID: u.ID, Title: fmt.Sprintf("task %02d", i), DueDate: day(12 - i)})
	}
	mustTask(t, s, model.Task{UserID: other.ID, Title: "foreign", DueDate: day(0)})

	p := pagination.Params{Page: 2, PageSize: 5}
	items, total, err := s.ListTasks(ctx, u.ID, taskfilter.Criteria{}, p)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	require.Len(t, items, 5)
	assert.Equal(t, 3, pagination.TotalPages(total, p.PageSize))

	for i := 1; i < len(items); i++ {
		assert.False(t, items[i].DueDate.Before(items[i-1].DueDate), "tasks must be ordered by due date asc")
	}
	for _, it := range items {
		assert.Equal(t, u.ID, it.UserID)
	}

	items, _, err = s.ListTasks(ctx, u.ID, taskfilter.Criteria{}, pagination.Params{Page: 999, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestList_HugePageIsEmpty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	for i := 0; i < 3; i++ {
		mustTask(t, s, model.Task{UserID: u.ID, Title: fmt.Sprintf("t%d", i), DueDate: day(i)})
	}
	mustCompany(t, s, u.ID, "Acme")

	for _, page := range []int{math.MaxInt, 4611686018427387905, pagination.ParsePage("9223372036854775807")} {
		p := pagination.Params{Page: page, PageSize: 2}

		tasks, total, err := s.ListTasks(ctx, u.ID, taskfilter.Criteria{}, p)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Empty(t, tasks, "page=%d", page)

		companies, total, err := s.ListCompanies(ctx, u.ID, p)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Empty(t, companies, "page=%d", page)
	}
}

func TestListTasks_ItemsLengthProperty(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	for i := 0; i < 7; i++ {
		mustTask(t, s, model.Task{UserID: u.ID, Title: "t", DueDate: day(i)})
	}

	for _, size := range []int{1, 3, 7, 75} {
		for page := 1; page <= 4; page++ {
			p := pagination.Params{Page: page, PageSize: size}
			items, total, err := s.ListTasks(ctx, u.ID, taskfilter.Criteria{}, p)
			require.NoError(t, err)
			want := int(total) - p.Skip()
			if want < 0 {
				want = 0
			}
			if want > size {
				want = size
			}
			assert.Len(t, items, want, "page=%d size=%d", page, size)
		}
	}
}

func TestListTasks_IncludesCompanyName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	c := mustCompany(t, s, u.ID, "Acme")
	mustTask(t, s, model.Task{UserID: u.ID, Title: "linked", DueDate: day(1), CompanyID: &c.ID})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "free", DueDate: day(2)})

	items, _, err := s.ListTasks(ctx, u.ID, taskfilter.Criteria{}, pagination.Params{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.NotNil(t, items[0].Company)
	assert.Equal(t, "Acme", items[0].Company.Name)
	assert.Nil(t, items[1].Company)
}

func TestListTasks_ServerFilterMatchesRefine(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	c := mustCompany(t, s, u.ID, "Acme")

	mustTask(t, s, model.Task{UserID: u.ID, Title: "Graph BFS", Type: "DSA", Status: model.StatusTodo, DueDate: day(1), CompanyID: &c.ID})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "Mock", Type: "interview", Status: model.StatusInProgress, DueDate: day(2), Description: strPtr("graph heavy round")})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "HR prep", Type: "hr", Status: model.StatusDone, DueDate: day(3)})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "DP 100% done_list", Type: "dsa", Status: model.StatusTodo, DueDate: day(4), CompanyID: &c.ID})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "Étude de cas", Type: "ÉCRIT", Status: model.StatusTodo, DueDate: day(5), Description: strPtr("Entretien à Zürich")})

	all, _, err := s.ListTasks(ctx, u.ID, taskfilter.Criteria{}, pagination.Params{Page: 1, PageSize: 75})
	require.NoError(t, err)

	cases := []taskfilter.Criteria{
		{Status: model.StatusTodo},
		{CompanyID: c.ID},
		{Type: "DSA"},
		{Search: "GRAPH"},
		{Search: "100%"},
		{Search: "_"},
		{Status: model.StatusTodo, Type: "dsa", Search: "dp"},
		{Type: "écrit"},
		{Type: "ÉCRIT"},
		{Search: "étude"},
		{Search: "ZÜRICH"},
	}
	for _, crit := range cases {
		got, total, err := s.ListTasks(ctx, u.ID, crit, pagination.Params{Page: 1, PageSize: 75})
		require.NoError(t, err)
		want := taskfilter.Refine(all, crit)
		require.NotEmpty(t, want, "criteria %+v should match something", crit)
		assert.Equal(t, len(want), int(total), "criteria %+v", crit)
		require.Len(t, got, len(want), "criteria %+v", crit)
		for i := range want {
			assert.Equal(t, want[i].ID, got[i].ID)
		}
	}
}

func TestUpdateTask_RefoldsFilterColumns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	task := mustTask(t, s, model.Task{UserID: u.ID, Title: "Arrays", Type: "DSA", DueDate: day(1)})

	require.NoError(t, s.UpdateTask(ctx, u.ID, task.ID, map[string]interface{}{
		"task_type":   "ÉCRIT",
		"title":       "Dissertation",
		"description": "Révision générale",
	}))

	page := pagination.Params{Page: 1, PageSize: 10}
	for _, crit := range []taskfilter.Criteria{{Type: "écrit"}, {Search: "DISSERT"}, {Search: "RÉVISION"}} {
		items, total, err := s.ListTasks(ctx, u.ID, crit, page)
		require.NoError(t, err)
		assert.Equal(t, int64(1), total, "criteria %+v", crit)
		require.Len(t, items, 1)
		assert.True(t, crit.Match(items[0]))
	}

	_, total, err := s.ListTasks(ctx, u.ID, taskfilter.Criteria{Type: "dsa"}, page)
	require.NoError(t, err)
	assert.Zero(t, total, "old type must no longer match")
}

func TestCompanyCRUDScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")

	c := mustCompany(t, s, u.ID, "Acme")
	got, err := s.GetCompany(ctx, u.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)
	assert.NotNil(t, got.Tasks)
	assert.Empty(t, got.Tasks)

	require.NoError(t, s.DeleteCompany(ctx, u.ID, c.ID))
	_, err = s.GetCompany(ctx, u.ID, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompanyDetail_TasksOrderedByDueDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	c := mustCompany(t, s, u.ID, "Acme")
	mustTask(t, s, model.Task{UserID: u.ID, Title: "late", DueDate: day(5), CompanyID: &c.ID})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "early", DueDate: day(1), CompanyID: &c.ID})

	got, err := s.GetCompany(ctx, u.ID, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Tasks, 2)
	assert.Equal(t, "early", got.Tasks[0].Title)
	assert.Equal(t, "late", got.Tasks[1].Title)
}

func TestListCompanies_NewestFirstAndScoped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	other := mustUser(t, s, "o@example.com")

	first := mustCompany(t, s, u.ID, "first")
	time.Sleep(5 * time.Millisecond)
	second := mustCompany(t, s, u.ID, "second")
	mustCompany(t, s, other.ID, "foreign")

	items, total, err := s.ListCompanies(ctx, u.ID, pagination.Params{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	assert.Equal(t, second.ID, items[0].ID)
	assert.Equal(t, first.ID, items[1].ID)
}

func TestUpdateAndDelete_ForeignRecordIsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com")
	intruder := mustUser(t, s, "intruder@example.com")
	c := mustCompany(t, s, owner.ID, "Acme")
	task := mustTask(t, s, model.Task{UserID: owner.ID, Title: "mine", DueDate: day(1)})

	err := s.UpdateCompany(ctx, intruder.ID, c.ID, map[string]interface{}{"name": "pwned"})
	assert.ErrorIs(t, err, ErrNotFound)
	err = s.UpdateCompany(ctx, intruder.ID, "does-not-exist", map[string]interface{}{"name": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteCompany(ctx, intruder.ID, c.ID), ErrNotFound)
	assert.ErrorIs(t, s.UpdateTask(ctx, intruder.ID, task.ID, map[string]interface{}{"title": "x"}), ErrNotFound)
	assert.ErrorIs(t, s.DeleteTask(ctx, intruder.ID, task.ID), ErrNotFound)

	got, err := s.GetCompany(ctx, owner.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme", got.Name)

	require.NoError(t, s.UpdateCompany(ctx, owner.ID, c.ID, map[string]interface{}{"name": "Acme Corp"}))
	got, err = s.GetCompany(ctx, owner.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)
	assert.Equal(t, "SWE", got.Role)
}

func TestCreateTask_ForeignCompanyRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com")
	other := mustUser(t, s, "other@example.com")
	foreign := mustCompany(t, s, other.ID, "Elsewhere")

	task := &model.Task{UserID: owner.ID, Title: "t", Type: "DSA", Topic: "x", DueDate: day(1), CompanyID: &foreign.ID}
	assert.ErrorIs(t, s.CreateTask(ctx, task), ErrCompanyReference)

	_, total, err := s.ListTasks(ctx, owner.ID, taskfilter.Criteria{}, pagination.Params{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestUpdateTask_CompanyReference(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := mustUser(t, s, "owner@example.com")
	other := mustUser(t, s, "other@example.com")
	mine := mustCompany(t, s, owner.ID, "Mine")
	foreign := mustCompany(t, s, other.ID, "Theirs")
	task := mustTask(t, s, model.Task{UserID: owner.ID, Title: "t", DueDate: day(1)})

	err := s.UpdateTask(ctx, owner.ID, task.ID, map[string]interface{}{"company_id": foreign.ID})
	assert.ErrorIs(t, err, ErrCompanyReference)

	require.NoError(t, s.UpdateTask(ctx, owner.ID, task.ID, map[string]interface{}{"company_id": mine.ID}))
	items, _, err := s.ListTasks(ctx, owner.ID, taskfilter.Criteria{CompanyID: mine.ID}, pagination.Params{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, s.UpdateTask(ctx, owner.ID, task.ID, map[string]interface{}{"company_id": nil}))
	items, _, err = s.ListTasks(ctx, owner.ID, taskfilter.Criteria{}, pagination.Params{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].CompanyID)
}

func TestCreateTask_DefaultStatusTodo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	created := mustTask(t, s, model.Task{UserID: u.ID, Title: "t", DueDate: day(1)})
	assert.Equal(t, model.StatusTodo, created.Status)

	items, _, err := s.ListTasks(ctx, u.ID, taskfilter.Criteria{}, pagination.Params{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, model.StatusTodo, items[0].Status)
}

func TestDeleteCompany_NullsTaskReferences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	c := mustCompany(t, s, u.ID, "Acme")
	mustTask(t, s, model.Task{UserID: u.ID, Title: "linked", DueDate: day(1), CompanyID: &c.ID})

	require.NoError(t, s.DeleteCompany(ctx, u.ID, c.ID))

	items, total, err := s.ListTasks(ctx, u.ID, taskfilter.Criteria{}, pagination.Params{Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "tasks survive company deletion")
	require.Len(t, items, 1)
	assert.Nil(t, items[0].CompanyID)
}

func TestTaskStatsAndUpcoming(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	other := mustUser(t, s, "o@example.com")
	mustCompany(t, s, u.ID, "Acme")
	mustCompany(t, s, u.ID, "Globex")

	mustTask(t, s, model.Task{UserID: u.ID, Title: "a", Status: model.StatusTodo, DueDate: day(3)})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "b", Status: model.StatusInProgress, DueDate: day(1)})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "c", Status: model.StatusDone, DueDate: day(0)})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "d", Status: model.StatusTodo, DueDate: day(2)})
	mustTask(t, s, model.Task{UserID: other.ID, Title: "x", Status: model.StatusTodo, DueDate: day(0)})

	stats, err := s.TaskStats(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStats{TotalCompanies: 2, TotalTasks: 4, TodoTasks: 2, InProgressTasks: 1, DoneTasks: 1}, stats)

	upcoming, err := s.UpcomingTasks(ctx, u.ID, 5)
	require.NoError(t, err)
	require.Len(t, upcoming, 3)
	assert.Equal(t, "b", upcoming[0].Title)
	assert.Equal(t, "d", upcoming[1].Title)
	assert.Equal(t, "a", upcoming[2].Title)
}

func TestDueTasksAndReminderTarget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := mustUser(t, s, "u@example.com")
	c := mustCompany(t, s, u.ID, "Acme")

	now := time.Now().UTC()
	soon := mustTask(t, s, model.Task{UserID: u.ID, Title: "soon", DueDate: now.Add(2 * time.Hour), CompanyID: &c.ID})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "done", Status: model.StatusDone, DueDate: now.Add(time.Hour)})
	mustTask(t, s, model.Task{UserID: u.ID, Title: "later", DueDate: now.Add(72 * time.Hour)})

	due, err := s.DueTasks(ctx, now, now.Add(24*time.Hour), "", 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, soon.ID, due[0].ID)

	due, err = s.DueTasks(ctx, now, now.Add(24*time.Hour), soon.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	target, err := s.ReminderTarget(ctx, u.ID, soon.ID)
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", target.Email)
	assert.Equal(t, "Acme", target.CompanyName)
	assert.Equal(t, "soon", target.Title)

	_, err = s.ReminderTarget(ctx, "someone-else", soon.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "dsn")
	assert.Error(t, err)
}
