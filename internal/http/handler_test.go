package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking-service/internal/config"
	"parking-service/internal/domain/parking"
	"parking-service/internal/enforcement"
	"parking-service/internal/service"
)

const testSecret = "test-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *service.ParkingService) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{}
	cfg.Parking.CapacityLimit = 5
	cfg.Parking.HourlyRate = 50
	cfg.Parking.EnforcementScope = config.ScopeLot
	cfg.Cameras = []config.CameraConfig{{ID: "cam-1"}}
	cfg.Auth.JWTSecret = testSecret

	newMonitor := func(key string) *enforcement.Monitor {
		return enforcement.NewMonitor(cfg.Parking.CapacityLimit, 0, time.Second, nil, nil, zerolog.Nop())
	}
	svc := service.NewParkingService(cfg, newMonitor, service.Options{}, zerolog.Nop())

	r := gin.New()
	NewHandler(svc, cfg, zerolog.Nop()).Register(r, JWTAuth(testSecret))
	return r, svc
}

func crossing(identity string, direction parking.Direction) parking.CrossingEvent {
	return parking.CrossingEvent{
		ID:        uuid.NewString(),
		TrackID:   uuid.NewString(),
		CameraID:  "cam-1",
		Direction: direction,
		Identity:  identity,
		Timestamp: time.Now(),
	}
}

func doRequest(r *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestOccupancy(t *testing.T) {
	r, svc := newTestRouter(t)

	_, err := svc.ProcessCrossing(context.Background(), crossing("DL12345", parking.DirectionEntry))
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/api/v1/occupancy", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data service.Status `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Data.Occupancy)
	assert.Equal(t, 5, resp.Data.Capacity)
	assert.Equal(t, 20.0, resp.Data.PercentFull)
	assert.False(t, resp.Data.Violation)
}

func TestActiveVehicles(t *testing.T) {
	r, svc := newTestRouter(t)

	_, err := svc.ProcessCrossing(context.Background(), crossing("DL12345", parking.DirectionEntry))
	require.NoError(t, err)
	_, err = svc.ProcessCrossing(context.Background(), crossing("GH67890", parking.DirectionEntry))
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/api/v1/vehicles/active", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []service.ActiveVehicle `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "DL12345", resp.Data[0].Identity)
}

func TestListRecords_PlateFilter(t *testing.T) {
	r, svc := newTestRouter(t)

	_, err := svc.ProcessCrossing(context.Background(), crossing("DL12345", parking.DirectionEntry))
	require.NoError(t, err)
	_, err = svc.ProcessCrossing(context.Background(), crossing("GH67890", parking.DirectionEntry))
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/api/v1/records?plate=dl+12345", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []service.RecordInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "DL12345", resp.Data[0].Identity)
	assert.Nil(t, resp.Data[0].ExitTime)
}

func TestListRecords_BadTimeRange(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/records?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEvents_WithoutDatabase(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/events", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExportRecords_RequiresToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/records/export", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodGet, "/api/v1/records/export", map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExportRecords_WithToken(t *testing.T) {
	r, svc := newTestRouter(t)

	_, err := svc.ProcessCrossing(context.Background(), crossing("DL12345", parking.DirectionEntry))
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/api/v1/records/export", map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "identity,camera_id,entry_time")
	assert.Contains(t, w.Body.String(), "DL12345")
}

func TestExportRecords_PagesThroughAllRecords(t *testing.T) {
	r, svc := newTestRouter(t)

	// Well past one page of records.
	for i := 0; i < 120; i++ {
		_, err := svc.ProcessCrossing(context.Background(), crossing(fmt.Sprintf("AB%05d", i), parking.DirectionEntry))
		require.NoError(t, err)
	}
	svc.Wait()

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/api/v1/records/export", map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, w.Code)

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 121)
}

func TestExportRecords_RejectsWrongSecret(t *testing.T) {
	r, _ := newTestRouter(t)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ops",
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)

	w := doRequest(r, http.MethodGet, "/api/v1/records/export", map[string]string{
		"Authorization": "Bearer " + token,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
