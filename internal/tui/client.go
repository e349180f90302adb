package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

const timeLayout = "2006-01-02 15:04:05"

// Client wraps HTTP calls to the Regent API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListJobs fetches jobs from the API
func (c *Client) ListJobs(status string) ([]JobItem, error) {
	url := c.baseURL + "/tasks?limit=50"
	if status != "" {
		url += "&status=" + status
	}

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var out struct {
		Jobs []struct {
			ID         string    `json:"id"`
			Query      string    `json:"query"`
			Status     string    `json:"status"`
			Iterations int       `json:"iterations"`
			CreatedAt  time.Time `json:"created_at"`
		} `json:"jobs"`
		Count int `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	items := make([]JobItem, len(out.Jobs))
	for i, j := range out.Jobs {
		items[i] = JobItem{
			ID:         j.ID,
			Query:      j.Query,
			Status:     j.Status,
			Iterations: j.Iterations,
			CreatedAt:  j.CreatedAt.Local().Format(timeLayout),
		}
	}
	return items, nil
}

// GetJob fetches a single job
func (c *Client) GetJob(id string) (*JobDetail, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/tasks/" + id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var job struct {
		ID         string    `json:"id"`
		Query      string    `json:"query"`
		Status     string    `json:"status"`
		Result     string    `json:"result"`
		Error      string    `json:"error"`
		Iterations int       `json:"iterations"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, err
	}

	return &JobDetail{
		ID:         job.ID,
		Query:      job.Query,
		Status:     job.Status,
		Result:     job.Result,
		Error:      job.Error,
		Iterations: job.Iterations,
		CreatedAt:  job.CreatedAt.Local().Format(timeLayout),
		UpdatedAt:  job.UpdatedAt.Local().Format(timeLayout),
	}, nil
}

// SubmitQuery submits a query for asynchronous execution and returns the job id
func (c *Client) SubmitQuery(query string) (string, error) {
	body := map[string]interface{}{
		"query":           query,
		"async_execution": true,
	}
	resp, err := c.post("/query", body)
	if err != nil {
		return "", err
	}

	var result struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", err
	}
	return result.TaskID, nil
}

// DeleteJob deletes a finished job or cancels a running one. The returned
// outcome is "deleted" or "cancelling".
func (c *Client) DeleteJob(id string) (string, error) {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/tasks/"+id, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("API error: %s", string(body))
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Status, nil
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	return body, nil
}

// CheckHealth checks if the daemon is healthy
func (c *Client) CheckHealth() (bool, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, nil
	}

	var health struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, err
	}

	return health.OK, nil
}
