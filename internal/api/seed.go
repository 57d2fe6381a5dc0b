package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"preptracker/internal/model"
	"preptracker/internal/pkg/pagination"
	"preptracker/internal/store"

	"golang.org/x/crypto/bcrypt"
)

const (
	demoEmail    = "demo@preptracker.dev"
	demoPassword = "demo-pass"
)

type demoCompany struct {
	name, role, location string
	tasks                []demoTask
}

type demoTask struct {
	title, taskType, topic string
	status                 model.TaskStatus
	dueInDays              int
}

var demoCompanies = []demoCompany{
	{
		name: "Acme", role: "SWE", location: "Bengaluru",
		tasks: []demoTask{
			{"Two pointers drill", "DSA", "arrays", model.StatusDone, -3},
			{"Sliding window set", "DSA", "arrays", model.StatusInProgress, 1},
			{"Design a URL shortener", "System Design", "storage", model.StatusTodo, 5},
		},
	},
	{
		name: "Globex", role: "Backend Engineer", location: "Remote",
		tasks: []demoTask{
			{"Graph traversal revision", "DSA", "graphs", model.StatusTodo, 2},
			{"Behavioural stories", "HR", "leadership", model.StatusTodo, 7},
		},
	},
	{
		name: "Initech", role: "SDE Intern", location: "Pune",
		tasks: []demoTask{
			{"OS scheduling notes", "Core CS", "operating systems", model.StatusInProgress, 3},
		},
	},
}

// SeedDemoData 初始化演示账号及其公司、任务。
//
// 只在演示用户还没有任何公司时写入，重复调用不会产生重复数据。
func (s *Server) SeedDemoData(ctx context.Context) error {
	return seedDemoData(ctx, store.New(s.db), time.Now().UTC())
}

func seedDemoData(ctx context.Context, st dataStore, now time.Time) error {
	user, err := st.FindUserByEmail(ctx, demoEmail)
	if errors.Is(err, store.ErrNotFound) {
		hash, hashErr := bcrypt.GenerateFromPassword([]byte(demoPassword), bcrypt.DefaultCost)
		if hashErr != nil {
			return hashErr
		}
		user = &model.User{Name: "Demo User", Email: demoEmail, Password: string(hash)}
		if err := st.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("seed user: %w", err)
		}
	} else if err != nil {
		return err
	}

	_, total, err := st.ListCompanies(ctx, user.ID, pagination.Params{Page: 1, PageSize: 1})
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	day := now.Truncate(24 * time.Hour)
	for _, dc := range demoCompanies {
		location := dc.location
		company := &model.Company{UserID: user.ID, Name: dc.name, Role: dc.role, Location: &location}
		if err := st.CreateCompany(ctx, company); err != nil {
			return fmt.Errorf("seed company %s: %w", dc.name, err)
		}
		for _, dt := range dc.tasks {
			companyID := company.ID
			task := &model.Task{
				UserID:    user.ID,
				Title:     dt.title,
				Type:      dt.taskType,
				Topic:     dt.topic,
				Status:    dt.status,
				DueDate:   day.AddDate(0, 0, dt.dueInDays),
				CompanyID: &companyID,
			}
			if err := st.CreateTask(ctx, task); err != nil {
				return fmt.Errorf("seed task %s: %w", dt.title, err)
			}
		}
	}
	return nil
}
