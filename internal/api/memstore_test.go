package api

import (
	"context"
	"sort"
	"sync"
	"time"

	"preptracker/internal/model"
	"preptracker/internal/pkg/pagination"
	"preptracker/internal/store"
	"preptracker/internal/taskfilter"

	"github.com/google/uuid"
)

// memStore 是 handler 测试使用的内存存储。
type memStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User
	companies map[string]*model.Company
	tasks     map[string]*model.Task
	seq       int
	failWith  error
}

func newMemStore() *memStore {
	return &memStore{
		users:     make(map[string]*model.User),
		companies: make(map[string]*model.Company),
		tasks:     make(map[string]*model.Task),
	}
}

// tick 为 CreatedAt 提供单调递增的时间。
func (m *memStore) tick() time.Time {
	m.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
}

func (m *memStore) CreateUser(ctx context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return store.ErrEmailTaken
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = m.tick()
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ListCompanies(ctx context.Context, userID string, p pagination.Params) ([]model.Company, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return nil, 0, m.failWith
	}
	all := make([]model.Company, 0)
	for _, c := range m.companies {
		if c.UserID == userID {
			all = append(all, *c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return pageOf(all, p), int64(len(all)), nil
}

func (m *memStore) CreateCompany(ctx context.Context, company *model.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if company.ID == "" {
		company.ID = uuid.NewString()
	}
	company.CreatedAt = m.tick()
	company.UpdatedAt = company.CreatedAt
	cp := *company
	m.companies[company.ID] = &cp
	return nil
}

func (m *memStore) GetCompany(ctx context.Context, userID, id string) (*model.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies[id]
	if !ok || c.UserID != userID {
		return nil, store.ErrNotFound
	}
	cp := *c
	for _, t := range m.tasks {
		if t.UserID == userID && t.CompanyID != nil && *t.CompanyID == id {
			cp.Tasks = append(cp.Tasks, *t)
		}
	}
	sort.Slice(cp.Tasks, func(i, j int) bool { return cp.Tasks[i].DueDate.Before(cp.Tasks[j].DueDate) })
	return &cp, nil
}

func (m *memStore) UpdateCompany(ctx context.Context, userID, id string, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok || c.UserID != userID {
		return store.ErrNotFound
	}
	for k, v := range updates {
		s, _ := v.(string)
		switch k {
		case "name":
			c.Name = s
		case "role":
			c.Role = s
		case "ctc":
			c.CTC = &s
		case "location":
			c.Location = &s
		case "rounds":
			c.Rounds = &s
		case "required_skills":
			c.RequiredSkills = &s
		}
	}
	return nil
}

func (m *memStore) DeleteCompany(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.companies[id]
	if !ok || c.UserID != userID {
		return store.ErrNotFound
	}
	for _, t := range m.tasks {
		if t.CompanyID != nil && *t.CompanyID == id {
			t.CompanyID = nil
		}
	}
	delete(m.companies, id)
	return nil
}

func (m *memStore) ownsCompany(userID, companyID string) bool {
	c, ok := m.companies[companyID]
	return ok && c.UserID == userID
}

func (m *memStore) withCompany(t model.Task) model.Task {
	if t.CompanyID != nil {
		if c, ok := m.companies[*t.CompanyID]; ok {
			t.Company = &model.Company{ID: c.ID, Name: c.Name}
		}
	}
	return t
}

func (m *memStore) ListTasks(ctx context.Context, userID string, criteria taskfilter.Criteria, p pagination.Params) ([]model.Task, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return nil, 0, m.failWith
	}
	all := make([]model.Task, 0)
	for _, t := range m.tasks {
		if t.UserID == userID && criteria.Match(*t) {
			all = append(all, m.withCompany(*t))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DueDate.Before(all[j].DueDate) })
	return pageOf(all, p), int64(len(all)), nil
}

func (m *memStore) CreateTask(ctx context.Context, task *model.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.CompanyID != nil && !m.ownsCompany(task.UserID, *task.CompanyID) {
		return store.ErrCompanyReference
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = model.StatusTodo
	}
	task.CreatedAt = m.tick()
	task.UpdatedAt = task.CreatedAt
	cp := *task
	m.tasks[task.ID] = &cp
	return nil
}

func (m *memStore) UpdateTask(ctx context.Context, userID, id string, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return store.ErrNotFound
	}
	if v, ok := updates["company_id"]; ok {
		if s, isStr := v.(string); isStr && !m.ownsCompany(userID, s) {
			return store.ErrCompanyReference
		}
	}
	for k, v := range updates {
		switch k {
		case "title":
			t.Title = v.(string)
		case "task_type":
			t.Type = v.(string)
		case "topic":
			t.Topic = v.(string)
		case "status":
			t.Status = v.(model.TaskStatus)
		case "due_date":
			t.DueDate = v.(time.Time)
		case "company_id":
			if s, isStr := v.(string); isStr {
				t.CompanyID = &s
			} else {
				t.CompanyID = nil
			}
		case "description":
			s := v.(string)
			t.Description = &s
		case "notes":
			s := v.(string)
			t.Notes = &s
		}
	}
	return nil
}

func (m *memStore) DeleteTask(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok || t.UserID != userID {
		return store.ErrNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *memStore) TaskStats(ctx context.Context, userID string) (model.TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats model.TaskStats
	for _, c := range m.companies {
		if c.UserID == userID {
			stats.TotalCompanies++
		}
	}
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		stats.TotalTasks++
		switch t.Status {
		case model.StatusTodo:
			stats.TodoTasks++
		case model.StatusInProgress:
			stats.InProgressTasks++
		case model.StatusDone:
			stats.DoneTasks++
		}
	}
	return stats, nil
}

func (m *memStore) UpcomingTasks(ctx context.Context, userID string, limit int) ([]model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Task, 0)
	for _, t := range m.tasks {
		if t.UserID == userID && t.Status != model.StatusDone {
			out = append(out, m.withCompany(*t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) taskCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

func pageOf[T any](all []T, p pagination.Params) []T {
	start := p.Skip()
	if start >= len(all) {
		return []T{}
	}
	end := start + p.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[start:end]
}
