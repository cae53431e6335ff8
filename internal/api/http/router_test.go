package http

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-platform/internal/fetch/job"
	"research-platform/internal/research"
	"research-platform/pkg/errors"
	"research-platform/pkg/log"
)

// stubIntake 记录提交并落到真实的内存 store，让读路径有数据
type stubIntake struct {
	tasks     *research.StoreMem
	jobs      *job.StoreMem
	submitErr error
}

func (s *stubIntake) Submit(ctx context.Context, query string, targetURLs []string) (string, error) {
	if s.submitErr != nil {
		return "", s.submitErr
	}
	if len(targetURLs) == 0 {
		return "", errors.Wrap(errors.ErrInvalidArg, "no target urls")
	}
	taskID, err := s.tasks.Create(ctx, &research.Task{Query: query, TargetURLs: targetURLs})
	if err != nil {
		return "", err
	}
	for _, u := range targetURLs {
		if _, err := s.jobs.Create(ctx, &job.FetchJob{TaskID: taskID, URL: u}); err != nil {
			return "", err
		}
	}
	return taskID, nil
}

func (s *stubIntake) Cancel(ctx context.Context, taskID string) error {
	return s.tasks.RequestCancel(ctx, taskID)
}

func buildTestServer(t *testing.T) (*server.Hertz, *stubIntake) {
	t.Helper()
	logger, err := log.NewLogger(&log.Config{Level: "error", Format: "text"})
	require.NoError(t, err)

	intake := &stubIntake{tasks: research.NewStoreMem(), jobs: job.NewStoreMem()}
	h := NewHandler(intake, intake.tasks, intake.jobs, logger)
	return NewRouter(h).Build(":0"), intake
}

func performJSON(s *server.Hertz, method, path string, payload interface{}) *ut.ResponseRecorder {
	var body []byte
	if payload != nil {
		body, _ = json.Marshal(payload)
	}
	return ut.PerformRequest(s.Engine, method, path,
		&ut.Body{Body: bytes.NewReader(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: "application/json"})
}

func TestHealthCheck(t *testing.T) {
	s, _ := buildTestServer(t)
	w := performJSON(s, "GET", "/api/health", nil)
	assert.Equal(t, 200, w.Result().StatusCode())
	assert.Contains(t, string(w.Result().Body()), `"status":"ok"`)
}

func TestCreateResearch(t *testing.T) {
	s, _ := buildTestServer(t)

	w := performJSON(s, "POST", "/api/research", map[string]interface{}{
		"query":       "latest go gc changes",
		"target_urls": []string{"https://example.com/a"},
	})
	require.Equal(t, 202, w.Result().StatusCode())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Result().Body(), &resp))
	assert.NotEmpty(t, resp["task_id"])
}

func TestCreateResearchValidation(t *testing.T) {
	s, _ := buildTestServer(t)

	w := performJSON(s, "POST", "/api/research", map[string]interface{}{"target_urls": []string{"https://example.com"}})
	assert.Equal(t, 400, w.Result().StatusCode())

	w = performJSON(s, "POST", "/api/research", map[string]interface{}{"query": "q"})
	assert.Equal(t, 400, w.Result().StatusCode())
}

func TestGetResearchSnapshot(t *testing.T) {
	s, intake := buildTestServer(t)

	taskID, err := intake.Submit(context.Background(), "q", []string{"https://example.com/a", "https://example.com/b"})
	require.NoError(t, err)

	w := performJSON(s, "GET", "/api/research/"+taskID, nil)
	require.Equal(t, 200, w.Result().StatusCode())

	var resp struct {
		ID           string                   `json:"id"`
		Status       string                   `json:"status"`
		TotalTargets int                      `json:"total_targets"`
		Jobs         []map[string]interface{} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Result().Body(), &resp))
	assert.Equal(t, taskID, resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, 2, resp.TotalTargets)
	assert.Len(t, resp.Jobs, 2)
}

func TestGetResearchNotFound(t *testing.T) {
	s, _ := buildTestServer(t)
	w := performJSON(s, "GET", "/api/research/task-nope", nil)
	assert.Equal(t, 404, w.Result().StatusCode())
}

func TestListResearch(t *testing.T) {
	s, intake := buildTestServer(t)
	_, err := intake.Submit(context.Background(), "q1", []string{"https://example.com/a"})
	require.NoError(t, err)
	_, err = intake.Submit(context.Background(), "q2", []string{"https://example.com/b"})
	require.NoError(t, err)

	w := performJSON(s, "GET", "/api/research", nil)
	require.Equal(t, 200, w.Result().StatusCode())

	var resp struct {
		Total int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Result().Body(), &resp))
	assert.Equal(t, 2, resp.Total)
}

func TestCancelResearch(t *testing.T) {
	s, intake := buildTestServer(t)
	taskID, err := intake.Submit(context.Background(), "q", []string{"https://example.com/a"})
	require.NoError(t, err)

	w := performJSON(s, "POST", "/api/research/"+taskID+"/cancel", nil)
	assert.Equal(t, 200, w.Result().StatusCode())

	got, _ := intake.tasks.Get(context.Background(), taskID)
	assert.True(t, got.CancelRequested)
}

func TestCancelResearchNotFound(t *testing.T) {
	s, _ := buildTestServer(t)
	w := performJSON(s, "POST", "/api/research/task-nope/cancel", nil)
	assert.Equal(t, 404, w.Result().StatusCode())
}

func TestAnalyze(t *testing.T) {
	s, intake := buildTestServer(t)

	w := performJSON(s, "POST", "/api/analyze", map[string]string{"url": "https://example.com/article"})
	require.Equal(t, 202, w.Result().StatusCode())

	tasks, _ := intake.tasks.List(context.Background())
	require.Len(t, tasks, 1)
	assert.Equal(t, []string{"https://example.com/article"}, tasks[0].TargetURLs)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := buildTestServer(t)
	w := performJSON(s, "GET", "/metrics", nil)
	assert.Equal(t, 200, w.Result().StatusCode())
	assert.Contains(t, w.Result().Header.Get("Content-Type"), "text/plain")
}
