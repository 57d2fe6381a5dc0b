package api

import (
	"context"
	"net/http"
	"time"

	"preptracker/internal/model"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const upcomingLimit = 5

// DashboardStore 提供仪表盘统计。
type DashboardStore interface {
	TaskStats(ctx context.Context, userID string) (model.TaskStats, error)
	UpcomingTasks(ctx context.Context, userID string, limit int) ([]model.Task, error)
}

type upcomingTask struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Type        string           `json:"type"`
	Topic       string           `json:"topic"`
	Status      model.TaskStatus `json:"status"`
	DueDate     time.Time        `json:"dueDate"`
	CompanyName *string          `json:"companyName"`
}

type dashboardResponse struct {
	model.TaskStats
	UpcomingTasks []upcomingTask `json:"upcomingTasks"`
}

func (s *Server) handleDashboard(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var (
		stats    model.TaskStats
		upcoming []model.Task
	)
	eg, ctx := errgroup.WithContext(c.Request.Context())
	eg.Go(func() error {
		var err error
		stats, err = s.dashboardStore.TaskStats(ctx, userID)
		return err
	})
	eg.Go(func() error {
		var err error
		upcoming, err = s.dashboardStore.UpcomingTasks(ctx, userID, upcomingLimit)
		return err
	})
	if err := eg.Wait(); err != nil {
		s.respondStoreError(c, "dashboard", err)
		return
	}

	resp := dashboardResponse{TaskStats: stats, UpcomingTasks: make([]upcomingTask, 0, len(upcoming))}
	for _, t := range upcoming {
		item := upcomingTask{
			ID:      t.ID,
			Title:   t.Title,
			Type:    t.Type,
			Topic:   t.Topic,
			Status:  t.Status,
			DueDate: t.DueDate,
		}
		if t.Company != nil {
			name := t.Company.Name
			item.CompanyName = &name
		}
		resp.UpcomingTasks = append(resp.UpcomingTasks, item)
	}
	c.JSON(http.StatusOK, resp)
}
