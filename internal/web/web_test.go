package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workcal/internal/config"
	"workcal/internal/ics"
	"workcal/internal/pipeline"
)

const feed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:a
DTSTAMP:20230301T000000Z
DTSTART:20230302T090000Z
DTEND:20230302T101000Z
SUMMARY:A
END:VEVENT
BEGIN:VEVENT
UID:b
DTSTAMP:20230301T000000Z
DTSTART:20230302T100000Z
DTEND:20230302T111000Z
SUMMARY:B
END:VEVENT
END:VCALENDAR
`

type testEnv struct {
	server  *Server
	handler http.Handler
	fetches *atomic.Int32
}

func newTestEnv(t *testing.T, auth *config.BasicAuthConfig) testEnv {
	t.Helper()

	var fetches atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		_, _ = w.Write([]byte(strings.ReplaceAll(feed, "\n", "\r\n")))
	}))
	t.Cleanup(upstream.Close)

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.ICS = []config.ICSConfig{{ID: "team", URL: upstream.URL + "/team.ics"}}
	cfg.BasicAuth = auth

	runner := pipeline.NewRunner(cfg, ics.NewFetcher(t.TempDir(), upstream.Client()), nil)
	s := NewServer(cfg, runner, nil)
	s.now = func() time.Time { return time.Date(2023, 3, 1, 8, 0, 0, 0, time.UTC) }

	return testEnv{server: s, handler: s.Handler(), fetches: &fetches}
}

func (e testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	env := newTestEnv(t, &config.BasicAuthConfig{Username: "u", Password: "p"})

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/schedule", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/schedule", nil)
	req.SetBasicAuth("u", "p")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScheduleAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, 1, resp.Kept)
	assert.Equal(t, 1, resp.Relocated)
	assert.Equal(t, "UTC", resp.TimeZone)

	assert.Equal(t, "A", resp.Events[0].Name)
	assert.False(t, resp.Events[0].Relocated)

	b := resp.Events[1]
	assert.Equal(t, "B", b.Name)
	assert.Equal(t, "team", b.SourceID)
	assert.True(t, b.Relocated)
	assert.True(t, time.Date(2023, 3, 2, 10, 10, 0, 0, time.UTC).Equal(b.Start))
	require.NotNil(t, b.OriginalStart)
	assert.True(t, time.Date(2023, 3, 2, 10, 0, 0, 0, time.UTC).Equal(*b.OriginalStart))
}

func TestScheduleIsCached(t *testing.T) {
	env := newTestEnv(t, nil)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/schedule", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/schedule.ics", "").Code)
	assert.Equal(t, int32(1), env.fetches.Load())

	// A different window is built separately.
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/schedule?days=3", "").Code)
	assert.Equal(t, int32(2), env.fetches.Load())
}

func TestRefreshWarmsDefaultWindow(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.server.Refresh(context.Background(), "refresh"))
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/schedule", "").Code)
	assert.Equal(t, int32(1), env.fetches.Load())
}

func TestScheduleICS(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/schedule.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, rec.Body.String(), "SUMMARY:B")
}

func TestSchedulePage(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-ready="true"`)
	assert.Contains(t, body, "Thursday, 02 Mar")
	assert.Contains(t, body, "moved from Thu 10:00")
}

func TestRescheduleAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	body := "2023/03/02 09:00 -> 2023/03/02 10:00 - Standup\n" +
		"2023/03/02 09:30 -> 2023/03/02 10:30 - Review\n"

	rec := env.do(t, http.MethodPost, "/api/reschedule", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scheduleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Events, 2)
	assert.Equal(t, "Review", resp.Events[1].Name)
	assert.True(t, resp.Events[1].Relocated)
	assert.True(t, time.Date(2023, 3, 2, 10, 0, 0, 0, time.UTC).Equal(resp.Events[1].Start))
}

func TestRescheduleAPITextFormat(t *testing.T) {
	env := newTestEnv(t, nil)
	body := "2023/03/02 09:00 -> 2023/03/02 10:00 - Standup\n" +
		"2023/03/02 09:30 -> 2023/03/02 10:30 - Review\n"

	rec := env.do(t, http.MethodPost, "/api/reschedule?format=text", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t,
		"2023/03/02 09:00 -> 2023/03/02 10:00 - Standup\n"+
			"2023/03/02 10:00 -> 2023/03/02 11:00 - Review\n",
		rec.Body.String())
}

func TestRescheduleAPIMalformed(t *testing.T) {
	env := newTestEnv(t, nil)
	body := "2023/03/02 09:00 -> 2023/03/02 10:00 - Standup\n" +
		"garbage\n" +
		"2023/13/02 09:00 -> 2023/03/02 10:00 - Bad month\n"

	rec := env.do(t, http.MethodPost, "/api/reschedule", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		Error string         `json:"error"`
		Lines []lineErrorDTO `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Lines, 2)
	assert.Equal(t, 2, resp.Lines[0].Line)
	assert.Equal(t, "garbage", resp.Lines[0].Text)
	assert.Equal(t, 3, resp.Lines[1].Line)
}

func TestRescheduleAPITooLong(t *testing.T) {
	env := newTestEnv(t, nil)
	body := "2023/03/02 09:00 -> 2023/03/02 10:00 - Standup\n" +
		"2023/03/02 09:30 -> 2023/03/03 09:30 - Marathon\n"

	rec := env.do(t, http.MethodPost, "/api/reschedule", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "business day")
}

func TestScheduleWindowIsClamped(t *testing.T) {
	env := newTestEnv(t, nil)

	for i := range 50 {
		target := fmt.Sprintf("/api/schedule?days=%d&backfill=50000", 100000+i)
		rec := env.do(t, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp scheduleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotNil(t, resp.RangeStart)
		require.NotNil(t, resp.RangeEnd)
		assert.Equal(t, 2*maxWindowDays, int(resp.RangeEnd.Sub(*resp.RangeStart).Hours()/24))
	}

	assert.Equal(t, int32(1), env.fetches.Load())
	assert.Equal(t, 1, env.server.cacheLen())
}

func TestScheduleCacheIsBounded(t *testing.T) {
	env := newTestEnv(t, nil)

	for days := 1; days <= 3*maxCachedWindows; days++ {
		rec := env.do(t, http.MethodGet, fmt.Sprintf("/api/schedule?days=%d", days), "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.LessOrEqual(t, env.server.cacheLen(), maxCachedWindows)
	}
}

func TestScheduleCacheDropsExpiredWindows(t *testing.T) {
	env := newTestEnv(t, nil)
	now := time.Date(2023, 3, 1, 8, 0, 0, 0, time.UTC)
	env.server.now = func() time.Time { return now }

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/schedule?days=3", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/schedule?days=4", "").Code)
	assert.Equal(t, 2, env.server.cacheLen())

	now = now.Add(scheduleCacheTTL)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/schedule?days=5", "").Code)
	assert.Equal(t, 1, env.server.cacheLen())
}
