package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/appointment-lifecycle/internal/appointment"
	"github.com/hackgods/appointment-lifecycle/internal/appointment/apptest"
	"github.com/hackgods/appointment-lifecycle/internal/notification"
)

type testEnv struct {
	store   *apptest.Store
	hub     *notification.Hub
	handler http.Handler
}

func newTestEnv(t *testing.T, checks ...Check) *testEnv {
	t.Helper()

	store := apptest.NewStore()
	hub := notification.NewHub(zap.NewNop(), 8)
	t.Cleanup(hub.Close)

	return &testEnv{
		store: store,
		hub:   hub,
		handler: NewRouter(RouterConfig{
			Service:      appointment.NewService(store, zap.NewNop()),
			Hub:          hub,
			Checks:       checks,
			SSEHeartbeat: time.Hour,
			Logger:       zap.NewNop(),
			Env:          "test",
		}),
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestReopenHandler(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Add(appointment.Appointment{
		Status:            appointment.StatusExpired,
		NotifiedThirtyMin: true,
		NotifiedTenMin:    true,
	}, "p")

	date := time.Now().Add(48 * time.Hour).UTC().Truncate(time.Second)
	rec := env.do(http.MethodPost, "/appointments/"+id.String()+"/reopen",
		`{"appointment_date":"`+date.Format(time.RFC3339)+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "reopened", resp.Status)
	assert.True(t, date.Equal(resp.AppointmentDate))
	assert.False(t, resp.NotifiedThirtyMin)
	assert.False(t, resp.NotifiedTenMin)
}

func TestReopenHandler_Errors(t *testing.T) {
	env := newTestEnv(t)
	completed := env.store.Add(appointment.Appointment{Status: appointment.StatusCompleted}, "p")
	expired := env.store.Add(appointment.Appointment{Status: appointment.StatusExpired}, "p")
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"not expired", "/appointments/" + completed.String() + "/reopen", `{"appointment_date":"` + future + `"}`, http.StatusConflict, "appointment_not_expired"},
		{"past date", "/appointments/" + expired.String() + "/reopen", `{"appointment_date":"` + past + `"}`, http.StatusUnprocessableEntity, "invalid_appointment_date"},
		{"missing date", "/appointments/" + expired.String() + "/reopen", `{}`, http.StatusBadRequest, "missing_appointment_date"},
		{"bad body", "/appointments/" + expired.String() + "/reopen", `{`, http.StatusBadRequest, "invalid_request_body"},
		{"bad id", "/appointments/nope/reopen", `{}`, http.StatusBadRequest, "invalid_appointment_id"},
		{"unknown id", "/appointments/" + uuid.NewString() + "/reopen", `{"appointment_date":"` + future + `"}`, http.StatusNotFound, "appointment_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestEditAndDeleteRejectTerminalStatuses(t *testing.T) {
	env := newTestEnv(t)

	for _, status := range []appointment.Status{appointment.StatusCompleted, appointment.StatusCancelled, appointment.StatusNoShow} {
		id := env.store.Add(appointment.Appointment{Status: status}, "p")

		rec := env.do(http.MethodPatch, "/appointments/"+id.String(), `{"notes":"late"}`)
		assert.Equal(t, http.StatusConflict, rec.Code, status)
		assert.Equal(t, "appointment_not_modifiable", decodeError(t, rec).Error)

		rec = env.do(http.MethodDelete, "/appointments/"+id.String(), "")
		assert.Equal(t, http.StatusConflict, rec.Code, status)
	}
}

func TestDeleteHandler(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Add(appointment.Appointment{Status: appointment.StatusScheduled}, "p")

	rec := env.do(http.MethodDelete, "/appointments/"+id.String(), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/appointments/"+id.String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChangeStatusHandler(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Add(appointment.Appointment{Status: appointment.StatusConfirmed}, "p")
	path := "/appointments/" + id.String() + "/status"

	rec := env.do(http.MethodPost, path, `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "reason_required", decodeError(t, rec).Error)

	rec = env.do(http.MethodPost, path, `{"status":"expired"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)

	rec = env.do(http.MethodPost, path, `{"status":"archived"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, path, `{"status":"cancelled","reason":"clinic closed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cancelled", resp.Status)
	require.NotNil(t, resp.CancellationReason)
	assert.Equal(t, "clinic closed", *resp.CancellationReason)
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	env := newTestEnv(t)
	id := env.store.Add(appointment.Appointment{Status: appointment.StatusScheduled}, "p")
	env.store.UpdateErr = errors.New("pq: password authentication failed")

	rec := env.do(http.MethodPatch, "/appointments/"+id.String(), `{"notes":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
}

func TestNotificationStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	doctor := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/doctors/"+doctor.String()+"/notifications", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return env.hub.SubscriberCount(doctor) == 1 }, time.Second, 5*time.Millisecond)

	appointmentID := uuid.New()
	err = env.hub.Notify(context.Background(), doctor, notification.Event{
		Type:          notification.EventAppointmentExpiring,
		AppointmentID: appointmentID,
		PatientName:   "Mary Jackson",
		Message:       "Appointment starts in 30 minutes",
		Timestamp:     time.Now(),
	})
	require.NoError(t, err)

	var eventLine, dataLine string
	for eventLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(line, "event: "):
			eventLine = strings.TrimSpace(strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			dataLine = strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}

	assert.Equal(t, "APPOINTMENT_EXPIRING", eventLine)
	var ev notification.Event
	require.NoError(t, json.Unmarshal([]byte(dataLine), &ev))
	assert.Equal(t, appointmentID, ev.AppointmentID)
	assert.Equal(t, "Mary Jackson", ev.PatientName)

	cancel()
	assert.Eventually(t, func() bool { return env.hub.DoctorCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestNotificationStream_BadDoctorID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/doctors/not-a-uuid/notifications", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadiness(t *testing.T) {
	down := func(context.Context) error { return errors.New("down") }
	up := func(context.Context) error { return nil }

	tests := []struct {
		name   string
		checks []Check
		code   int
		status string
	}{
		{"all up", []Check{{Name: "postgres", Critical: true, Ping: up}, {Name: "redis", Ping: up}}, http.StatusOK, "ok"},
		{"redis down", []Check{{Name: "postgres", Critical: true, Ping: up}, {Name: "redis", Ping: down}}, http.StatusOK, "degraded"},
		{"postgres down", []Check{{Name: "postgres", Critical: true, Ping: down}, {Name: "redis", Ping: up}}, http.StatusServiceUnavailable, "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.checks...)
			rec := env.do(http.MethodGet, "/health/ready", "")
			assert.Equal(t, tt.code, rec.Code)

			var resp ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Len(t, resp.Dependencies, 2)
		})
	}
}
