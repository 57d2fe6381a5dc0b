package api

import (
	"context"
	"net/http"
	"strings"

	"preptracker/internal/model"
	"preptracker/internal/pkg/pagination"
	"preptracker/internal/taskfilter"

	"github.com/gin-gonic/gin"
)

// TaskStore 是任务相关接口依赖的存储能力。
type TaskStore interface {
	ListTasks(ctx context.Context, userID string, c taskfilter.Criteria, p pagination.Params) ([]model.Task, int64, error)
	CreateTask(ctx context.Context, task *model.Task) error
	UpdateTask(ctx context.Context, userID, id string, updates map[string]interface{}) error
	DeleteTask(ctx context.Context, userID, id string) error
}

type createTaskRequest struct {
	Title       string  `json:"title" binding:"required,max=200"`
	Type        string  `json:"type" binding:"required,max=100"`
	Topic       string  `json:"topic" binding:"required,max=200"`
	Status      string  `json:"status" binding:"omitempty,taskstatus"`
	DueDate     string  `json:"dueDate" binding:"required,duedate"`
	CompanyID   *string `json:"companyId" binding:"omitempty,max=64"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
	Notes       *string `json:"notes" binding:"omitempty,max=2000"`
}

type updateTaskRequest struct {
	Title       *string        `json:"title" binding:"omitnil,min=1,max=200"`
	Type        *string        `json:"type" binding:"omitnil,min=1,max=100"`
	Topic       *string        `json:"topic" binding:"omitnil,min=1,max=200"`
	Status      *string        `json:"status" binding:"omitnil,taskstatus"`
	DueDate     *string        `json:"dueDate" binding:"omitnil,duedate"`
	CompanyID   NullableString `json:"companyId" binding:"omitempty,max=64"`
	Description *string        `json:"description" binding:"omitnil,max=2000"`
	Notes       *string        `json:"notes" binding:"omitnil,max=2000"`
}

// updates 只包含请求中出现的字段；companyId 为 null 或空串表示解除关联。
func (r updateTaskRequest) updates() map[string]interface{} {
	out := make(map[string]interface{})
	if r.Title != nil {
		out["title"] = *r.Title
	}
	if r.Type != nil {
		out["task_type"] = *r.Type
	}
	if r.Topic != nil {
		out["topic"] = *r.Topic
	}
	if r.Status != nil {
		out["status"] = model.TaskStatus(*r.Status)
	}
	if r.DueDate != nil {
		// 已通过 duedate 校验
		due, _ := parseDueDate(*r.DueDate)
		out["due_date"] = due
	}
	if r.CompanyID.Set {
		if r.CompanyID.Null || strings.TrimSpace(r.CompanyID.Value) == "" {
			out["company_id"] = nil
		} else {
			out["company_id"] = strings.TrimSpace(r.CompanyID.Value)
		}
	}
	if r.Description != nil {
		out["description"] = *r.Description
	}
	if r.Notes != nil {
		out["notes"] = *r.Notes
	}
	return out
}

type companyRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// taskView 是列表中的任务，附带公司 {id, name} 或 null。
type taskView struct {
	model.Task
	Company *companyRef `json:"company"`
}

func toTaskViews(tasks []model.Task) []taskView {
	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v := taskView{Task: t}
		if t.Company != nil {
			v.Company = &companyRef{ID: t.Company.ID, Name: t.Company.Name}
		}
		out = append(out, v)
	}
	return out
}

func (s *Server) handleListTasks(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	p := pagination.Parse(c.Query("page"), c.Query("pageSize"))
	criteria := taskfilter.FromQuery(c.Request.URL.Query())
	if criteria.Status != "" && !criteria.Status.Valid() {
		respondValidation(c, map[string][]string{
			"status": {fieldMessageFor("status", "taskstatus")},
		})
		return
	}

	items, total, err := s.taskStore.ListTasks(c.Request.Context(), userID, criteria, p)
	if err != nil {
		s.respondStoreError(c, "list tasks", err)
		return
	}
	c.JSON(http.StatusOK, pagination.NewPage(toTaskViews(items), total, p))
}

func (s *Server) handleCreateTask(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, bindErrorDetails(err))
		return
	}

	due, err := parseDueDate(req.DueDate)
	if err != nil {
		respondValidation(c, map[string][]string{"dueDate": {fieldMessageFor("dueDate", "duedate")}})
		return
	}
	status := model.TaskStatus(req.Status)
	if status == "" {
		status = model.StatusTodo
	}

	task := model.Task{
		UserID:      userID,
		Title:       req.Title,
		Type:        req.Type,
		Topic:       req.Topic,
		Status:      status,
		DueDate:     due,
		CompanyID:   emptyToNil(req.CompanyID),
		Description: req.Description,
		Notes:       req.Notes,
	}
	if err := s.taskStore.CreateTask(c.Request.Context(), &task); err != nil {
		s.respondStoreError(c, "create task", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleUpdateTask(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, bindErrorDetails(err))
		return
	}
	if err := s.taskStore.UpdateTask(c.Request.Context(), userID, c.Param("id"), req.updates()); err != nil {
		s.respondStoreError(c, "update task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Updated"})
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := s.taskStore.DeleteTask(c.Request.Context(), userID, c.Param("id")); err != nil {
		s.respondStoreError(c, "delete task", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}
