package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"studio/internal/domain"
	"studio/internal/generation"
	handlers "studio/internal/http/handlers"
	"studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/middleware"
	"studio/internal/quota"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const testSecret = "test-secret"

type fakeJobs struct {
	mu        sync.Mutex
	next      int
	createErr error
	statusFn  func(jobID string) (domain.GenerationJob, error)
	quota     domain.QuotaState
	quotaErr  error
}

func (f *fakeJobs) CreateJob(ctx context.Context, in domain.InputRefs) (domain.GenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return domain.GenerationJob{}, f.createErr
	}
	f.next++
	return domain.GenerationJob{ID: fmt.Sprintf("job-%d", f.next), Kind: in.Kind, Status: domain.JobStatusQueued}, nil
}

func (f *fakeJobs) JobStatus(ctx context.Context, jobID string) (domain.GenerationJob, error) {
	f.mu.Lock()
	fn := f.statusFn
	f.mu.Unlock()
	if fn == nil {
		return domain.GenerationJob{ID: jobID, Status: domain.JobStatusProcessing}, nil
	}
	return fn(jobID)
}

func (f *fakeJobs) FetchQuota(ctx context.Context) (domain.QuotaState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quota, f.quotaErr
}

type stubAnalytics struct {
	summary *domain.GenerationCounters
	err     error
}

func (s *stubAnalytics) IncrementCounters(ctx context.Context, day string, counters map[string]int) error {
	return nil
}

func (s *stubAnalytics) GetSummary(ctx context.Context) (*domain.GenerationCounters, error) {
	return s.summary, s.err
}

type stubRow struct{ err error }

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 1 {
		if v, ok := dest[0].(*int); ok {
			*v = 1
		}
	}
	return nil
}

type stubDB struct{ err error }

func (s stubDB) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, s.err
}

func (s stubDB) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return stubRow{err: s.err}
}

func (s stubDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

type testServer struct {
	router http.Handler
	board  *generation.Board
	jobs   *fakeJobs
	reg    *generation.Registry
}

func newTestServer(t *testing.T, jobs *fakeJobs, limit int) *testServer {
	t.Helper()
	board := generation.NewBoard()
	policy := generation.Policy{Interval: time.Millisecond, MaxAttempts: 3}
	reg := generation.NewRegistry(func(userID string) (*generation.Controller, error) {
		return generation.NewController(generation.Options{
			Service:       jobs,
			Quota:         jobs,
			Ledger:        quota.NewLedger(domain.QuotaState{MonthlyLimit: limit}),
			Policies:      generation.Policies{domain.JobKindOutfit: policy, domain.JobKindDesign: policy},
			FallbackDelay: time.Millisecond,
			Listener:      board.Listener(userID),
		})
	})
	t.Cleanup(reg.Close)
	app := &handlers.App{
		Config: &infra.Config{
			JWTSecret:         testSecret,
			DefaultLocale:     "en",
			ArtifactAllowlist: []string{"cdn.example.com"},
		},
		SQL:         stubDB{},
		Controllers: reg,
		Board:       board,
		Analytics:   &stubAnalytics{err: domain.ErrNotFound},
	}
	return &testServer{router: httpapi.NewRouter(app, nil), board: board, jobs: jobs, reg: reg}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := middleware.SignJWT(testSecret, middleware.TokenClaims{
			Sub: userID,
			Exp: time.Now().Add(time.Hour).Unix(),
		})
		if err != nil {
			t.Fatalf("sign token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type generationBody struct {
	Target string                `json:"target"`
	State  string                `json:"state"`
	Job    *domain.GenerationJob `json:"job"`
	Error  *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func outfitRequest() map[string]any {
	return map[string]any{
		"kind":   "Outfit",
		"inputs": []map[string]any{{"url": "https://cdn.example.com/model.png"}, {"url": "https://cdn.example.com/shirt.png"}},
	}
}

func waitForState(t *testing.T, s *testServer, userID, target, state string) generationBody {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := s.do(t, http.MethodGet, "/v1/generations/"+target, userID, nil)
		body := decode[generationBody](t, rec)
		if body.State == state {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %q, want %q", body.State, state)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestGenerateRemoteSuccess(t *testing.T) {
	jobs := &fakeJobs{statusFn: func(jobID string) (domain.GenerationJob, error) {
		return domain.GenerationJob{
			ID:     jobID,
			Status: domain.JobStatusSucceeded,
			Result: &domain.JobResult{Artifact: domain.ArtifactRef{URL: "https://cdn.example.com/out.png"}},
		}, nil
	}}
	s := newTestServer(t, jobs, 5)

	rec := s.do(t, http.MethodPost, "/v1/generations/look-1", "u-1", outfitRequest())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	body := waitForState(t, s, "u-1", "look-1", string(generation.StateSucceeded))
	if body.Job == nil || body.Job.Result == nil || body.Job.Result.Origin != domain.OriginRemote {
		t.Fatalf("job = %+v, want remote result", body.Job)
	}

	rec = s.do(t, http.MethodGet, "/v1/quota", "u-1", nil)
	q := decode[domain.QuotaState](t, rec)
	if q.UsedThisMonth != 1 || q.Remaining != 4 {
		t.Fatalf("quota = %+v, want one reservation", q)
	}

	rec = s.do(t, http.MethodGet, "/v1/generations", "u-1", nil)
	list := decode[struct {
		Generations []generationBody `json:"generations"`
	}](t, rec)
	if len(list.Generations) != 1 || list.Generations[0].Target != "look-1" {
		t.Fatalf("generations = %+v", list.Generations)
	}
}

func TestGenerateFallsBackWhenServiceIsDown(t *testing.T) {
	jobs := &fakeJobs{createErr: &domain.NetworkError{Op: "create job", Err: errors.New("connection refused")}}
	s := newTestServer(t, jobs, 5)

	rec := s.do(t, http.MethodPost, "/v1/generations/look-1", "u-1", outfitRequest())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	body := waitForState(t, s, "u-1", "look-1", string(generation.StateSucceeded))
	if body.Job == nil || !body.Job.Simulated() {
		t.Fatalf("job = %+v, want simulated result", body.Job)
	}
	if body.Job.Result.Artifact.URL != "https://cdn.example.com/model.png" {
		t.Fatalf("artifact = %q, want primary input", body.Job.Result.Artifact.URL)
	}
}

func TestGenerateRejections(t *testing.T) {
	tests := []struct {
		name     string
		limit    int
		jobs     *fakeJobs
		userID   string
		body     any
		headers  []string
		want     int
		wantCode string
		wantText string
	}{
		{
			name:     "local quota exhausted",
			limit:    0,
			jobs:     &fakeJobs{},
			userID:   "u-1",
			body:     outfitRequest(),
			headers:  []string{"X-Locale", "id"},
			want:     http.StatusPaymentRequired,
			wantCode: "quota_exceeded",
			wantText: "Kuota",
		},
		{
			name:     "server quota exhausted",
			limit:    5,
			jobs:     &fakeJobs{createErr: &domain.QuotaExhaustedError{ServerReported: true}},
			userID:   "u-1",
			body:     outfitRequest(),
			want:     http.StatusPaymentRequired,
			wantCode: "quota_exceeded",
		},
		{
			name:   "disallowed host",
			limit:  5,
			jobs:   &fakeJobs{},
			userID: "u-1",
			body: map[string]any{
				"kind":   "design",
				"inputs": []map[string]any{{"url": "https://elsewhere.test/a.png"}},
			},
			want:     http.StatusBadRequest,
			wantCode: "bad_request",
		},
		{
			name:     "unknown kind",
			limit:    5,
			jobs:     &fakeJobs{},
			userID:   "u-1",
			body:     map[string]any{"kind": "video", "inputs": []map[string]any{{"url": "https://cdn.example.com/a.png"}}},
			want:     http.StatusBadRequest,
			wantCode: "bad_request",
		},
		{
			name:     "no inputs",
			limit:    5,
			jobs:     &fakeJobs{},
			userID:   "u-1",
			body:     map[string]any{"kind": "design"},
			want:     http.StatusBadRequest,
			wantCode: "bad_request",
		},
		{
			name: "missing token",
			jobs: &fakeJobs{},
			body: outfitRequest(),
			want: http.StatusUnauthorized,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestServer(t, tc.jobs, tc.limit)
			rec := s.do(t, http.MethodPost, "/v1/generations/look-1", tc.userID, tc.body, tc.headers...)
			if rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.want, rec.Body.String())
			}
			if tc.wantCode != "" && !strings.Contains(rec.Body.String(), `"code":"`+tc.wantCode+`"`) {
				t.Fatalf("body = %s, want code %s", rec.Body.String(), tc.wantCode)
			}
			if tc.wantText != "" && !strings.Contains(rec.Body.String(), tc.wantText) {
				t.Fatalf("body = %s, want %q", rec.Body.String(), tc.wantText)
			}
		})
	}
}

func TestGenerationTimeoutThenReconcile(t *testing.T) {
	jobs := &fakeJobs{}
	s := newTestServer(t, jobs, 5)

	if rec := s.do(t, http.MethodPost, "/v1/generations/look-1", "u-1", outfitRequest()); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	body := waitForState(t, s, "u-1", "look-1", string(generation.StateTimedOut))
	if body.Error == nil || body.Error.Code != "timed_out" {
		t.Fatalf("error = %+v, want timed_out", body.Error)
	}

	jobs.mu.Lock()
	jobs.statusFn = func(jobID string) (domain.GenerationJob, error) {
		return domain.GenerationJob{ID: jobID, Status: domain.JobStatusFailed, Error: &domain.JobError{Message: "No person detected in the model photo"}}, nil
	}
	jobs.mu.Unlock()

	rec := s.do(t, http.MethodPost, "/v1/generations/look-1/reconcile", "u-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile status = %d, want 200 (%s)", rec.Code, rec.Body.String())
	}
	body = decode[generationBody](t, rec)
	if body.State != string(generation.StateFailed) || body.Error == nil || body.Error.Code == "" {
		t.Fatalf("reconciled = %+v, want failed with a code", body)
	}

	rec = s.do(t, http.MethodPost, "/v1/generations/look-1/reconcile", "u-1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second reconcile status = %d, want 409", rec.Code)
	}
}

func TestCancelAndReset(t *testing.T) {
	s := newTestServer(t, &fakeJobs{}, 5)
	if rec := s.do(t, http.MethodPost, "/v1/generations/look-1", "u-1", outfitRequest()); rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/v1/generations/look-1", "u-1", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status = %d, want 204", rec.Code)
	}
	body := decode[generationBody](t, s.do(t, http.MethodGet, "/v1/generations/look-1", "u-1", nil))
	if body.State != string(generation.StateIdle) {
		t.Fatalf("state after cancel = %q, want idle", body.State)
	}

	rec := s.do(t, http.MethodPost, "/v1/generations/look-1/reset", "u-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", rec.Code)
	}
	if latest, ok := s.board.Latest("u-1", "look-1"); !ok || latest.State != generation.StateIdle {
		t.Fatalf("board latest = %+v, want idle", latest)
	}
}

func TestQuotaRefresh(t *testing.T) {
	jobs := &fakeJobs{quota: domain.QuotaState{MonthlyLimit: 30, UsedThisMonth: 12}}
	s := newTestServer(t, jobs, 5)

	q := decode[map[string]any](t, s.do(t, http.MethodGet, "/v1/quota?refresh=1", "u-1", nil))
	if q["remaining"] != float64(18) || q["stale"] != nil {
		t.Fatalf("refreshed quota = %v", q)
	}

	jobs.mu.Lock()
	jobs.quotaErr = errors.New("quota endpoint down")
	jobs.mu.Unlock()
	q = decode[map[string]any](t, s.do(t, http.MethodGet, "/v1/quota?refresh=1", "u-1", nil))
	if q["remaining"] != float64(18) || q["stale"] != true {
		t.Fatalf("stale quota = %v", q)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, &fakeJobs{}, 5)
	if rec := s.do(t, http.MethodGet, "/v1/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health status = %d, want 200", rec.Code)
	}

	app := &handlers.App{SQL: stubDB{err: errors.New("down")}}
	rec := httptest.NewRecorder()
	app.Health(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded health status = %d, want 503", rec.Code)
	}
}

func TestStatsSummary(t *testing.T) {
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	app := &handlers.App{Analytics: &stubAnalytics{summary: &domain.GenerationCounters{
		Day: day, Submitted: 7, RemoteSucceeded: 4, SimulatedSucceeded: 2, Failed: 1,
	}}}
	rec := httptest.NewRecorder()
	app.StatsSummary(rec, httptest.NewRequest(http.MethodGet, "/v1/stats/generations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[map[string]any](t, rec)
	if got["day"] != "2026-03-01" || got["remote_succeeded"] != float64(4) || got["simulated_succeeded"] != float64(2) {
		t.Fatalf("stats = %v", got)
	}

	s := newTestServer(t, &fakeJobs{}, 5)
	got = decode[map[string]any](t, s.do(t, http.MethodGet, "/v1/stats/generations", "u-1", nil))
	if got["submitted"] != float64(0) {
		t.Fatalf("empty stats = %v", got)
	}
}
