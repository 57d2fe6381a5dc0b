package api

import (
	"context"
	"net/http"
	"strings"

	"preptracker/internal/model"
	"preptracker/internal/pkg/pagination"

	"github.com/gin-gonic/gin"
)

// CompanyStore 是公司相关接口依赖的存储能力。
type CompanyStore interface {
	ListCompanies(ctx context.Context, userID string, p pagination.Params) ([]model.Company, int64, error)
	CreateCompany(ctx context.Context, company *model.Company) error
	GetCompany(ctx context.Context, userID, id string) (*model.Company, error)
	UpdateCompany(ctx context.Context, userID, id string, updates map[string]interface{}) error
	DeleteCompany(ctx context.Context, userID, id string) error
}

type createCompanyRequest struct {
	Name           string  `json:"name" binding:"required,max=200"`
	Role           string  `json:"role" binding:"required,max=200"`
	CTC            *string `json:"ctc" binding:"omitempty,max=100"`
	Location       *string `json:"location" binding:"omitempty,max=200"`
	Rounds         *string `json:"rounds" binding:"omitempty,max=500"`
	RequiredSkills *string `json:"requiredSkills" binding:"omitempty,max=500"`
}

type updateCompanyRequest struct {
	Name           *string `json:"name" binding:"omitnil,min=1,max=200"`
	Role           *string `json:"role" binding:"omitnil,min=1,max=200"`
	CTC            *string `json:"ctc" binding:"omitnil,max=100"`
	Location       *string `json:"location" binding:"omitnil,max=200"`
	Rounds         *string `json:"rounds" binding:"omitnil,max=500"`
	RequiredSkills *string `json:"requiredSkills" binding:"omitnil,max=500"`
}

// updates 只包含请求中出现的字段。
func (r updateCompanyRequest) updates() map[string]interface{} {
	out := make(map[string]interface{})
	if r.Name != nil {
		out["name"] = *r.Name
	}
	if r.Role != nil {
		out["role"] = *r.Role
	}
	if r.CTC != nil {
		out["ctc"] = *r.CTC
	}
	if r.Location != nil {
		out["location"] = *r.Location
	}
	if r.Rounds != nil {
		out["rounds"] = *r.Rounds
	}
	if r.RequiredSkills != nil {
		out["required_skills"] = *r.RequiredSkills
	}
	return out
}

// companyDetail 在公司信息之外总是带上 tasks 数组（可能为空）。
type companyDetail struct {
	model.Company
	Tasks []model.Task `json:"tasks"`
}

func (s *Server) handleListCompanies(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	p := pagination.Parse(c.Query("page"), c.Query("pageSize"))

	items, total, err := s.companyStore.ListCompanies(c.Request.Context(), userID, p)
	if err != nil {
		s.respondStoreError(c, "list companies", err)
		return
	}
	c.JSON(http.StatusOK, pagination.NewPage(items, total, p))
}

func (s *Server) handleCreateCompany(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req createCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, bindErrorDetails(err))
		return
	}

	company := model.Company{
		UserID:         userID,
		Name:           req.Name,
		Role:           req.Role,
		CTC:            emptyToNil(req.CTC),
		Location:       emptyToNil(req.Location),
		Rounds:         emptyToNil(req.Rounds),
		RequiredSkills: emptyToNil(req.RequiredSkills),
	}
	if err := s.companyStore.CreateCompany(c.Request.Context(), &company); err != nil {
		s.respondStoreError(c, "create company", err)
		return
	}
	c.JSON(http.StatusCreated, company)
}

func (s *Server) handleGetCompany(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	company, err := s.companyStore.GetCompany(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		s.respondStoreError(c, "get company", err)
		return
	}
	tasks := company.Tasks
	if tasks == nil {
		tasks = []model.Task{}
	}
	c.JSON(http.StatusOK, companyDetail{Company: *company, Tasks: tasks})
}

func (s *Server) handleUpdateCompany(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	var req updateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, bindErrorDetails(err))
		return
	}
	if err := s.companyStore.UpdateCompany(c.Request.Context(), userID, c.Param("id"), req.updates()); err != nil {
		s.respondStoreError(c, "update company", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Updated"})
}

func (s *Server) handleDeleteCompany(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	if err := s.companyStore.DeleteCompany(c.Request.Context(), userID, c.Param("id")); err != nil {
		s.respondStoreError(c, "delete company", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Deleted"})
}

func emptyToNil(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
