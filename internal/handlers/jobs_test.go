package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/botsmith/internal/schedule"
)

func TestJobsHandler(t *testing.T) {
	svc := schedule.NewService(nil, nil)
	ran := 0
	require.NoError(t, svc.Add(schedule.Job{Name: "sweep", Pattern: "@daily", Run: func(context.Context) error {
		ran++
		return nil
	}}))
	e := echo.New()
	NewJobsHandler(nil, svc).Register(e)

	serve := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	assert.Equal(t, http.StatusNoContent, serve(http.MethodPost, "/admin/jobs/sweep/run").Code)
	assert.Equal(t, 1, ran)
	assert.Equal(t, http.StatusNotFound, serve(http.MethodPost, "/admin/jobs/nope/run").Code)

	rec := serve(http.MethodGet, "/admin/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeJSON[schedule.ListResponse](t, rec)
	require.Len(t, list.Items, 1)
	assert.Equal(t, 1, list.Items[0].Runs)
}
