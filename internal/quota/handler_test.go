package quota

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steady-platform/steady/internal/period"
)

func TestSweep_PartialFailureReportsCountAndErrors(t *testing.T) {
	repo := newFakeRepo()
	sweeper := NewSweeper(repo, nil, nil)
	sweeper.now = func() time.Time { return testNow }

	good := expiredRecord(uuid.New(), period.Daily, 1)
	bad := expiredRecord(uuid.New(), period.Weekly, 1)
	require.NoError(t, repo.Create(context.Background(), good))
	require.NoError(t, repo.Create(context.Background(), bad))
	repo.resetErr = map[uuid.UUID]error{bad.ID: errors.New("row lock timeout")}

	h := NewHandler(nil, sweeper, nil)
	req := httptest.NewRequest("POST", "/api/v1/admin/quotas/sweep", nil)
	rec := httptest.NewRecorder()
	h.Sweep(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code, "per-record failures must not fail the sweep")

	var resp struct {
		Data struct {
			ResetCount int    `json:"reset_count"`
			Errors     string `json:"errors"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Data.ResetCount, "the healthy record still resets")
	assert.Contains(t, resp.Data.Errors, "row lock timeout")
}

func TestSweep_CleanRun(t *testing.T) {
	repo := newFakeRepo()
	sweeper := NewSweeper(repo, nil, nil)
	sweeper.now = func() time.Time { return testNow }

	require.NoError(t, repo.Create(context.Background(), expiredRecord(uuid.New(), period.Daily, 1)))

	h := NewHandler(nil, sweeper, nil)
	req := httptest.NewRequest("POST", "/api/v1/admin/quotas/sweep", nil)
	rec := httptest.NewRecorder()
	h.Sweep(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			ResetCount int `json:"reset_count"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Data.ResetCount)
}
