package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/go-while/go-rangeview/internal/config"
	"github.com/go-while/go-rangeview/internal/fetcher"
	"github.com/go-while/go-rangeview/internal/models"
	"github.com/go-while/go-rangeview/internal/partition"
)

type fakeUsers struct {
	res   *models.FetchResult
	err   error
	k     int
	calls int
}

func (f *fakeUsers) Fetch(ctx context.Context) (*models.FetchResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func (f *fakeUsers) Plan(ctx context.Context) (*models.PartitionPlan, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.res.Plan, nil
}

func (f *fakeUsers) Partitions() int {
	return f.k
}

type fakeSecondary struct {
	recs []*models.Record
	err  error
}

func (f *fakeSecondary) FetchRecords(ctx context.Context) ([]*models.Record, error) {
	return f.recs, f.err
}

func nineUsers(t *testing.T) *fakeUsers {
	t.Helper()
	plan, err := partition.NewPlan(models.Aggregate{Count: 9, MaxID: 30}, 3)
	require.NoError(t, err)
	res := &models.FetchResult{Plan: plan}
	for _, id := range []int64{1, 5, 10, 12, 15, 20, 22, 25, 30} {
		res.Records = append(res.Records, &models.Record{
			ID:    id,
			Name:  "User " + strings.Repeat("x", int(id%3)+1),
			Email: "u" + string(rune('a'+id%26)) + "@example.org",
		})
	}
	for _, r := range plan.Ranges {
		res.Partitions = append(res.Partitions, models.PartitionResult{Range: r, Rows: 3})
	}
	res.Records[0].Name = "Alice"
	res.Records[8].Name = "Zoe"
	return &fakeUsers{res: res, k: 3}
}

func newTestServer(t *testing.T, users UsersFetcher, secondary fetcher.RecordFetcher) *WebServer {
	t.Helper()
	s, err := NewServer(&config.WebConfig{ListenPort: 11980}, users, secondary, "users")
	require.NoError(t, err)
	return s
}

func do(s *WebServer, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func TestHomePageRendersUsers(t *testing.T) {
	s := newTestServer(t, nineUsers(t), nil)
	w := do(s, http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Alice")
	assert.Contains(t, body, "Zoe")
	assert.Less(t, strings.Index(body, "Alice"), strings.Index(body, "Zoe"))
	assert.Contains(t, body, "makes 3 requests to the database to pull data from the users table")
	assert.Contains(t, body, "9 users")
	assert.NotContains(t, body, "Secondary Users")
	assert.NotEmpty(t, w.Header().Get("ETag"))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestHomePageNotModified(t *testing.T) {
	s := newTestServer(t, nineUsers(t), nil)
	first := do(s, http.MethodGet, "/", nil)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := do(s, http.MethodGet, "/", nil)
	assert.Equal(t, etag, second.Header().Get("ETag"), "same data, same tag")

	w := do(s, http.MethodGet, "/", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestHomePageNotFound(t *testing.T) {
	s := newTestServer(t, &fakeUsers{err: fetcher.ErrNotFound, k: 3}, nil)
	w := do(s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "No data found in the users table")
}

func TestHomePageWithoutBinding(t *testing.T) {
	s := newTestServer(t, nil, nil)
	w := do(s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Database not available")

	// a fetcher built without a source reports the same
	s = newTestServer(t, fetcher.New(nil, fetcher.Options{}), nil)
	w = do(s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Database not available")
}

func TestHomePageQueryFailureHidesDetails(t *testing.T) {
	err := &fetcher.QueryError{Stage: fetcher.StageRange, Partition: 2, Err: errors.New("disk I/O error")}
	s := newTestServer(t, &fakeUsers{err: err, k: 3}, nil)
	w := do(s, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Failed to query database")
	assert.NotContains(t, w.Body.String(), "disk I/O error")
}

func TestHomePageShowsTruncationNotice(t *testing.T) {
	users := nineUsers(t)
	users.res.Partitions[0].Truncated = true
	s := newTestServer(t, users, nil)
	w := do(s, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "per-range cap of 3")
}

func TestHomePageSecondaryTable(t *testing.T) {
	sec := &fakeSecondary{recs: []*models.Record{{ID: 1, Name: "Neo", Email: "neo@example.org"}}}
	s := newTestServer(t, nineUsers(t), sec)
	w := do(s, http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Secondary Users")
	assert.Contains(t, w.Body.String(), "neo@example.org")
}

func TestHomePageSecondaryFailureKeepsPrimary(t *testing.T) {
	sec := &fakeSecondary{err: errors.New("connection refused")}
	s := newTestServer(t, nineUsers(t), sec)
	w := do(s, http.MethodGet, "/", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Alice")
	assert.Contains(t, body, "Secondary users are not available right now")
	assert.NotContains(t, body, "connection refused")
}

func TestAPIUsers(t *testing.T) {
	s := newTestServer(t, nineUsers(t), nil)
	w := do(s, http.MethodGet, "/api/v1/users", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Results []models.Record `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 9)
	assert.Equal(t, int64(1), body.Results[0].ID)
	assert.Equal(t, "Alice", body.Results[0].Name)
	assert.Equal(t, "false", w.Header().Get("X-Partitions-Truncated"))
}

func TestAPIUsersErrors(t *testing.T) {
	cases := []struct {
		name   string
		users  UsersFetcher
		status int
		msg    string
	}{
		{"unbound", nil, http.StatusInternalServerError, "Database not available"},
		{"empty", &fakeUsers{err: fetcher.ErrNotFound}, http.StatusNotFound, "No data found in the users table"},
		{"failed", &fakeUsers{err: &fetcher.QueryError{Stage: fetcher.StageAggregate, Partition: -1, Err: errors.New("x")}},
			http.StatusInternalServerError, "Failed to query database"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, tc.users, nil)
			w := do(s, http.MethodGet, "/api/v1/users", nil)
			assert.Equal(t, tc.status, w.Code)
			assert.JSONEq(t, `{"error":"`+tc.msg+`"}`, w.Body.String())
		})
	}
}

func TestAPIPlan(t *testing.T) {
	users := nineUsers(t)
	s := newTestServer(t, users, nil)
	w := do(s, http.MethodGet, "/api/v1/plan", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Table      string               `json:"table"`
		Partitions int                  `json:"partitions"`
		Plan       models.PartitionPlan `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "users", body.Table)
	assert.Equal(t, 3, body.Partitions)
	assert.Equal(t, []int64{10, 20}, body.Plan.Boundaries)
	assert.Equal(t, int64(3), body.Plan.PartSize)
	assert.Equal(t, 0, users.calls, "plan does not fetch rows")
}

func TestAuxiliaryRoutes(t *testing.T) {
	s := newTestServer(t, nineUsers(t), nil)

	w := do(s, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	w = do(s, http.MethodGet, "/static/style.css", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), ".table")

	w = do(s, http.MethodGet, "/robots.txt", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "User-agent")

	do(s, http.MethodGet, "/", nil)
	w = do(s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "rangeview_http_requests_total")

	w = do(s, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestIDIsKept(t *testing.T) {
	s := newTestServer(t, nineUsers(t), nil)
	id := "0b7c3f9e-4a57-4c1e-9a53-8a1f0f4d2b11"
	w := do(s, http.MethodGet, "/ping", http.Header{RequestIDHeader: {id}})
	assert.Equal(t, id, w.Header().Get(RequestIDHeader))

	w = do(s, http.MethodGet, "/ping", http.Header{RequestIDHeader: {"<script>"}})
	assert.NotEqual(t, "<script>", w.Header().Get(RequestIDHeader))
}

func TestRateLimit(t *testing.T) {
	s, err := NewServer(&config.WebConfig{ListenPort: 11980, RateLimitPerMinute: 1, RateLimitBurst: 1}, nineUsers(t), nil, "users")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/api/v1/users", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(s, http.MethodGet, "/api/v1/users", nil).Code)
	// unlimited routes
	assert.Equal(t, http.StatusOK, do(s, http.MethodGet, "/ping", nil).Code)
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "1 user", formatCount(1, "user"))
	assert.Equal(t, "0 users", formatCount(0, "user"))
	assert.Equal(t, "1,234 users", formatCount(1234, "user"))
}

func TestETagMatches(t *testing.T) {
	assert.False(t, etagMatches("", `"a"`))
	assert.True(t, etagMatches(`"a"`, `"a"`))
	assert.True(t, etagMatches(`"b", W/"a"`, `"a"`))
	assert.True(t, etagMatches("*", `"a"`))
	assert.False(t, etagMatches(`"b"`, `"a"`))
}

func TestRateLimiterDropsIdleClients(t *testing.T) {
	rl := NewRateLimiter(rate.Every(time.Minute), 1, time.Minute)
	now := time.Now()
	first := rl.getLimiter("10.0.0.1", now)
	assert.Same(t, first, rl.getLimiter("10.0.0.1", now.Add(time.Second)))

	rl.getLimiter("10.0.0.2", now.Add(2*time.Minute))
	assert.Len(t, rl.limiters, 1)
	assert.NotSame(t, first, rl.getLimiter("10.0.0.1", now.Add(2*time.Minute)))
}

func TestEmbeddedFiles(t *testing.T) {
	files, err := ListEmbeddedFiles()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"static/robots.txt", "static/style.css"}, files)

	assert.Equal(t, "text/css; charset=utf-8", getContentType("static/style.css"))
	assert.Equal(t, "application/octet-stream", getContentType("static/blob"))
}

func TestOnlyQueryFailuresReachSentry(t *testing.T) {
	var captured []map[string]string
	prev := captureError
	captureError = func(err error, tags map[string]string, _ ...raven.Interface) string {
		captured = append(captured, tags)
		return ""
	}
	t.Cleanup(func() { captureError = prev })

	unbound := newTestServer(t, fetcher.New(nil, fetcher.Options{}), nil)
	assert.Equal(t, http.StatusInternalServerError, do(unbound, http.MethodGet, "/", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, do(unbound, http.MethodGet, "/api/v1/users", nil).Code)

	empty := newTestServer(t, &fakeUsers{err: fetcher.ErrNotFound, k: 3}, nil)
	assert.Equal(t, http.StatusNotFound, do(empty, http.MethodGet, "/", nil).Code)
	assert.Empty(t, captured)

	failing := newTestServer(t, &fakeUsers{err: &fetcher.QueryError{Stage: fetcher.StageRange, Partition: 2, Err: errors.New("disk I/O error")}, k: 3}, nil)
	assert.Equal(t, http.StatusInternalServerError, do(failing, http.MethodGet, "/", nil).Code)
	require.Len(t, captured, 1)
	assert.Equal(t, string(fetcher.StageRange), captured[0]["stage"])
	assert.Equal(t, "users", captured[0]["table"])
}
