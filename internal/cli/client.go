package cli

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
)

// --- Response types (дублируются из api/dto.go, клиент не импортирует internal/api) ---

// StepRecord — состояние шага из API.
type StepRecord struct {
	Stage      string `json:"stage"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	LogFile    string `json:"log_file,omitempty"`
	ExitCode   *int   `json:"exit_code,omitempty"`
	StartedAt  string `json:"started_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID         string       `json:"id"`
	PlanName   string       `json:"plan_name"`
	Status     string       `json:"status"`
	Steps      []StepRecord `json:"steps"`
	FailedStep string       `json:"failed_step,omitempty"`
	Error      string       `json:"error,omitempty"`
	CreatedAt  string       `json:"created_at"`
	StartedAt  string       `json:"started_at,omitempty"`
	FinishedAt string       `json:"finished_at,omitempty"`
	DurationMs int64        `json:"duration_ms"`
}

// RunSummary — run в списке из API.
type RunSummary struct {
	ID         string `json:"id"`
	PlanName   string `json:"plan_name"`
	Status     string `json:"status"`
	FailedStep string `json:"failed_step,omitempty"`
	Steps      int    `json:"steps"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// ListPlansOpts — параметры фильтрации runs.
type ListPlansOpts struct {
	Status string
	Limit  int
}

// APIError — ошибка, которую вернул API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Actionrun API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Plans ---

// SubmitPlan отправляет план в исходном виде (JSON или YAML).
func (c *Client) SubmitPlan(ctx context.Context, plan []byte, contentType string) (*RunResponse, error) {
	var run RunResponse
	err := c.doData(ctx, http.MethodPost, "/api/v1/plans", bytes.NewReader(plan), contentType, &run)
	return &run, err
}

// ListPlans возвращает список runs с фильтрацией.
func (c *Client) ListPlans(ctx context.Context, opts ListPlansOpts) ([]RunSummary, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var runs []RunSummary
	err := c.list(ctx, "/api/v1/plans", params, &runs)
	return runs, err
}

// GetPlan возвращает run по ID.
func (c *Client) GetPlan(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.doData(ctx, http.MethodGet, "/api/v1/plans/"+url.PathEscape(id), nil, "", &run)
	return &run, err
}

// ReapPlan удаляет запись завершённого run и возвращает её.
func (c *Client) ReapPlan(ctx context.Context, id string) (*RunResponse, error) {
	var run RunResponse
	err := c.doData(ctx, http.MethodDelete, "/api/v1/plans/"+url.PathEscape(id), nil, "", &run)
	return &run, err
}

// StepLog возвращает лог-артефакт шага.
func (c *Client) StepLog(ctx context.Context, id, step string) ([]byte, error) {
	path := "/api/v1/plans/" + url.PathEscape(id) + "/steps/" + url.PathEscape(step) + "/log"

	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}

// --- HTTP helpers ---

func (c *Client) list(ctx context.Context, path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil {
		apiErr.Code = er.Error.Code
		apiErr.Message = er.Error.Message
	}
	return apiErr
}
