// Package client 是 preptracker HTTP API 的 Go SDK。
//
// 任务列表默认用 taskfilter.Refine 在本地过滤，只会收窄已取回的一页；
// 设置 ListTasksOptions.ServerFilter 后条件下推到服务端，
// 总数反映过滤后的集合。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"preptracker/internal/model"
	"preptracker/internal/taskfilter"
)

// Client 与 preptracker API 服务通信。
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option 配置 Client。
type Option func(*Client)

// WithHTTPClient 替换默认的 http.Client。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithToken 设置每个请求携带的 Bearer 令牌。
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New 创建指向 baseURL 的客户端，如 "http://localhost:8080"。
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken 替换 Bearer 令牌，通常在 Login 之后调用。
func (c *Client) SetToken(token string) {
	c.token = token
}

// APIError 表示非 2xx 响应。
type APIError struct {
	Status  int                 `json:"-"`
	Message string              `json:"error"`
	Details map[string][]string `json:"details"`
}

func (e *APIError) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error %d: %s %v", e.Status, e.Message, e.Details)
}

// User 是对外的用户信息。
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CompanyRef 是任务列表中附带的公司摘要。
type CompanyRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Task 是列表中的任务及其可选公司。
type Task struct {
	model.Task
	Company *CompanyRef `json:"company"`
}

// Page 是列表接口的一页结果。
type Page[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
}

// CompanyInput 是创建公司的请求体。
type CompanyInput struct {
	Name           string  `json:"name"`
	Role           string  `json:"role"`
	CTC            *string `json:"ctc,omitempty"`
	Location       *string `json:"location,omitempty"`
	Rounds         *string `json:"rounds,omitempty"`
	RequiredSkills *string `json:"requiredSkills,omitempty"`
}

// TaskInput 是创建任务的请求体，DueDate 为 YYYY-MM-DD 或 RFC3339。
type TaskInput struct {
	Title       string  `json:"title"`
	Type        string  `json:"type"`
	Topic       string  `json:"topic"`
	Status      string  `json:"status,omitempty"`
	DueDate     string  `json:"dueDate"`
	CompanyID   *string `json:"companyId,omitempty"`
	Description *string `json:"description,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

// Dashboard 是 GET /api/dashboard 的响应。
type Dashboard struct {
	model.TaskStats
	UpcomingTasks []struct {
		ID          string           `json:"id"`
		Title       string           `json:"title"`
		Type        string           `json:"type"`
		Topic       string           `json:"topic"`
		Status      model.TaskStatus `json:"status"`
		DueDate     time.Time        `json:"dueDate"`
		CompanyName *string          `json:"companyName"`
	} `json:"upcomingTasks"`
}

// Signup 注册用户并返回新用户 ID。
func (c *Client) Signup(ctx context.Context, name, email, password string) (string, error) {
	var out struct {
		UserID string `json:"userId"`
	}
	body := map[string]string{"name": name, "email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", nil, body, &out); err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Login 登录并把返回的令牌保存到客户端。
func (c *Client) Login(ctx context.Context, email, password string) (string, *User, error) {
	var out struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", nil, body, &out); err != nil {
		return "", nil, err
	}
	c.token = out.Token
	return out.Token, &out.User, nil
}

// Session 返回当前令牌对应的用户。
func (c *Client) Session(ctx context.Context) (*User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/session", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// ListCompanies 获取一页公司，按创建时间倒序。
func (c *Client) ListCompanies(ctx context.Context, page, pageSize int) (*Page[model.Company], error) {
	var out Page[model.Company]
	if err := c.do(ctx, http.MethodGet, "/api/companies", pageQuery(page, pageSize), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateCompany 创建公司。
func (c *Client) CreateCompany(ctx context.Context, in CompanyInput) (*model.Company, error) {
	var out model.Company
	if err := c.do(ctx, http.MethodPost, "/api/companies", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCompany 删除公司，其任务保留并解除关联。
func (c *Client) DeleteCompany(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/companies/"+url.PathEscape(id), nil, nil, nil)
}

// CreateTask 创建任务。
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (*model.Task, error) {
	var out model.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTaskStatus 修改任务状态。
func (c *Client) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	body := map[string]string{"status": string(status)}
	return c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), nil, body, nil)
}

// ListTasksOptions 指定页码与可选过滤条件。
type ListTasksOptions struct {
	Page         int
	PageSize     int
	Criteria     taskfilter.Criteria
	ServerFilter bool
}

// ListTasks 获取一页按截止日期排序的任务。
//
// 未设置 ServerFilter 时条件只作用于取回的这一页：
// 结果可能变少但不会变多，总数仍是未过滤的集合。
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) (*Page[Task], error) {
	q := pageQuery(opts.Page, opts.PageSize)
	if opts.ServerFilter {
		opts.Criteria.Encode(q)
	}
	var out Page[Task]
	if err := c.do(ctx, http.MethodGet, "/api/tasks", q, nil, &out); err != nil {
		return nil, err
	}
	if !opts.ServerFilter && !opts.Criteria.IsZero() {
		out.Items = refine(out.Items, opts.Criteria)
	}
	return &out, nil
}

// Dashboard 获取任务统计。
func (c *Client) Dashboard(ctx context.Context) (*Dashboard, error) {
	var out Dashboard
	if err := c.do(ctx, http.MethodGet, "/api/dashboard", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func refine(tasks []Task, criteria taskfilter.Criteria) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if criteria.Match(t.Task) {
			out = append(out, t)
		}
	}
	return out
}

func pageQuery(page, pageSize int) url.Values {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	return q
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(data, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
