package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/TomaszPielecki/Snaply/internal/capture"
	"github.com/TomaszPielecki/Snaply/internal/jobs"
	"github.com/TomaszPielecki/Snaply/internal/registry"
	registryFile "github.com/TomaszPielecki/Snaply/internal/registry/file"
)

func TestServer_SubmitJob_Accepted(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	server := newTestServer(t, svc, Options{LinkBudget: 7})

	rec := doJSON(t, server, http.MethodPost, "/v1/jobs", `{"domain":"example.com","deviceType":"mobile"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp submitJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "job-1", resp.JobID)
	require.Equal(t, acceptedMessage, resp.Message)

	sub := svc.lastSubmit()
	require.Equal(t, "example.com", sub.url)
	require.Equal(t, "mobile", sub.device)
	require.Equal(t, 7, sub.budget)
}

func TestServer_SubmitJob_ExplicitBudget(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	server := newTestServer(t, svc, Options{LinkBudget: 7})

	rec := doJSON(t, server, http.MethodPost, "/v1/jobs", `{"domain":"example.com","deviceType":"desktop","linkBudget":0}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 0, svc.lastSubmit().budget)
}

func TestServer_SubmitJob_ValidationMessages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "missing domain", body: `{"deviceType":"mobile"}`, want: msgMissingDomain},
		{name: "missing device", body: `{"domain":"example.com"}`, want: msgMissingDevice},
		{name: "bad device", body: `{"domain":"example.com","deviceType":"tablet"}`, want: msgInvalidDevice},
		{name: "negative budget", body: `{"domain":"example.com","deviceType":"mobile","linkBudget":-1}`, want: msgInvalidBudget},
		{name: "broken json", body: `{`, want: "invalid JSON"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := newFakeJobs()
			server := newTestServer(t, svc, Options{})

			rec := doJSON(t, server, http.MethodPost, "/v1/jobs", tc.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, tc.want, errorMessage(t, rec))
			require.Empty(t, svc.submits)
		})
	}
}

func TestServer_SubmitJob_ServiceErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "invalid url", err: fmt.Errorf("%w: contains unsafe character", capture.ErrInvalidURL), status: http.StatusBadRequest},
		{name: "closed", err: jobs.ErrClosed, status: http.StatusServiceUnavailable},
		{name: "store failure", err: errors.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := newFakeJobs()
			svc.submitErr = tc.err
			server := newTestServer(t, svc, Options{})

			rec := doJSON(t, server, http.MethodPost, "/v1/jobs", `{"domain":"exa<mple.com","deviceType":"mobile"}`)

			require.Equal(t, tc.status, rec.Code)
			require.NotContains(t, errorMessage(t, rec), "disk full")
		})
	}
}

func TestServer_GetJob(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	svc.put(capture.JobRecord{ID: "job-1", State: capture.StateProcessing, UpdatedAt: time.Unix(100, 0).UTC()})
	server := newTestServer(t, svc, Options{})

	rec := doJSON(t, server, http.MethodGet, "/v1/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got capture.JobRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, capture.StateProcessing, got.State)

	rec = doJSON(t, server, http.MethodGet, "/v1/jobs/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, capture.StateUnknown, got.State)
	require.Equal(t, "Task not found", got.Info[capture.InfoError])
}

func TestServer_ListJobs_FiltersAndPages(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	for i := 0; i < 5; i++ {
		state := capture.StateSuccess
		if i%2 == 1 {
			state = capture.StateFailure
		}
		svc.put(capture.JobRecord{ID: fmt.Sprintf("job-%d", i), State: state})
	}
	server := newTestServer(t, svc, Options{})

	rec := doJSON(t, server, http.MethodGet, "/v1/jobs?state=success&limit=2&offset=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Jobs  []capture.JobRecord `json:"jobs"`
		Total int                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 3, resp.Total)
	require.Len(t, resp.Jobs, 2)
	require.Equal(t, "job-2", resp.Jobs[0].ID)
	require.Equal(t, "job-4", resp.Jobs[1].ID)

	rec = doJSON(t, server, http.MethodGet, "/v1/jobs?offset=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 5, resp.Total)
	require.Empty(t, resp.Jobs)

	for _, bad := range []string{"?limit=0", "?offset=-1", "?state=bogus"} {
		rec = doJSON(t, server, http.MethodGet, "/v1/jobs"+bad, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestServer_ListJobs_StoreError(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	svc.listErr = errors.New("boom")
	server := newTestServer(t, svc, Options{})

	rec := doJSON(t, server, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_CancelJob(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	svc.put(capture.JobRecord{ID: "job-1", State: capture.StateProcessing})
	server := newTestServer(t, svc, Options{})

	rec := doJSON(t, server, http.MethodPost, "/v1/jobs/job-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"canceled":true`)
	require.Equal(t, capture.StateCanceled, svc.Status(context.Background(), "job-1").State)

	rec = doJSON(t, server, http.MethodPost, "/v1/jobs/job-1/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"canceled":false`)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobs(), Options{APIKey: "secret"})

	rec := doJSON(t, server, http.MethodGet, "/v1/jobs", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/v1/jobs?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobs(), Options{})
	rec := doJSON(t, server, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	server = newTestServer(t, newFakeJobs(), Options{
		Ready: func(context.Context) error { return errors.New("store down") },
	})
	rec = doJSON(t, server, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "store down")
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobs(), Options{})

	rec := doJSON(t, server, http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestServer_Screenshots(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	old := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 3, 5, 23, 30, 0, 0, time.UTC)
	writeShot(t, root, "example_com/desktop/main_page_desktop.png", old)
	writeShot(t, root, "example_com/mobile/main_page_mobile.png", recent)
	writeShot(t, root, "other_org/desktop/main_page_desktop.png", recent)
	server := newTestServer(t, newFakeJobs(), Options{ScreenshotDir: root})

	var search struct {
		Screenshots []struct {
			Path string `json:"path"`
		} `json:"screenshots"`
	}
	rec := doJSON(t, server, http.MethodGet, "/v1/screenshots?domain=EXAMPLE&start_date=2024-03-05&end_date=2024-03-05", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	require.Len(t, search.Screenshots, 1)
	require.Equal(t, "example_com/mobile/main_page_mobile.png", search.Screenshots[0].Path)

	rec = doJSON(t, server, http.MethodGet, "/v1/screenshots?device_type=desktop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &search))
	require.Len(t, search.Screenshots, 2)

	rec = doJSON(t, server, http.MethodGet, "/v1/screenshots?start_date=03/05/2024", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, server, http.MethodGet, "/v1/screenshots?start_date=2024-03-06&end_date=2024-03-05", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var index struct {
		Domains map[string][]string `json:"domains"`
	}
	rec = doJSON(t, server, http.MethodGet, "/v1/screenshots/index", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &index))
	require.Equal(t, []string{"desktop/main_page_desktop.png", "mobile/main_page_mobile.png"}, index.Domains["example_com"])

	rec = doJSON(t, server, http.MethodDelete, "/v1/screenshots/example_com/desktop/main_page_desktop.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoFileExists(t, filepath.Join(root, "example_com", "desktop", "main_page_desktop.png"))

	rec = doJSON(t, server, http.MethodDelete, "/v1/screenshots/example_com/desktop/main_page_desktop.png", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, server, http.MethodDelete, "/v1/screenshots/example_com/notes.txt", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Domains(t *testing.T) {
	t.Parallel()

	server := newTestServer(t, newFakeJobs(), Options{})

	rec := doJSON(t, server, http.MethodPost, "/v1/domains", `{"domain":"https://Example.com"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var dom registry.Domain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dom))
	require.Equal(t, "example.com", dom.Name)

	rec = doJSON(t, server, http.MethodPost, "/v1/domains", `{"domain":"example.com"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	rec = doJSON(t, server, http.MethodPost, "/v1/domains", `{"domain":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doJSON(t, server, http.MethodPost, "/v1/domains", `{"domain":"ftp://example.com"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, server, http.MethodGet, "/v1/domains/example.com", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, server, http.MethodPut, "/v1/domains/example.com", `{"domain":"https://example.org"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, server, http.MethodGet, "/v1/domains/example.com", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	var list struct {
		Domains []registry.Domain `json:"domains"`
	}
	rec = doJSON(t, server, http.MethodGet, "/v1/domains", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Equal(t, []registry.Domain{{Name: "example.org", Address: "https://example.org"}}, list.Domains)

	rec = doJSON(t, server, http.MethodDelete, "/v1/domains/example.org", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, server, http.MethodDelete, "/v1/domains/example.org", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_DomainsUnavailable(t *testing.T) {
	t.Parallel()

	server := NewServer(newFakeJobs(), nil, nil, Options{}, zap.NewNop())
	rec := doJSON(t, server, http.MethodGet, "/v1/domains", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_StreamJob_PushesUntilTerminal(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	svc.put(capture.JobRecord{ID: "job-1", State: capture.StatePending, UpdatedAt: time.Unix(1, 0).UTC()})
	subs := newFakeSubscriber()
	server := NewServer(svc, nil, subs, Options{StreamPoll: time.Hour}, zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/jobs/job-1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	defer conn.Close()      //nolint:errcheck // test cleanup

	var rec capture.JobRecord
	require.NoError(t, conn.ReadJSON(&rec))
	require.Equal(t, capture.StatePending, rec.State)

	ch := subs.wait(t, "job-1")
	ch <- capture.JobRecord{ID: "job-1", State: capture.StateProcessing, UpdatedAt: time.Unix(2, 0).UTC()}
	require.NoError(t, conn.ReadJSON(&rec))
	require.Equal(t, capture.StateProcessing, rec.State)

	ch <- capture.JobRecord{ID: "job-1", State: capture.StateSuccess, UpdatedAt: time.Unix(3, 0).UTC()}
	require.NoError(t, conn.ReadJSON(&rec))
	require.Equal(t, capture.StateSuccess, rec.State)

	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestServer_StreamJob_TerminalClosesImmediately(t *testing.T) {
	t.Parallel()

	svc := newFakeJobs()
	server := NewServer(svc, nil, nil, Options{}, zap.NewNop())
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/jobs/nope/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck // test cleanup
	defer conn.Close()      //nolint:errcheck // test cleanup

	var rec capture.JobRecord
	require.NoError(t, conn.ReadJSON(&rec))
	require.Equal(t, capture.StateUnknown, rec.State)
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buffered read writer")
	}
	require.Equal(t, http.StatusSwitchingProtocols, rw.status)
}

type submitCall struct {
	url    string
	device string
	budget int
}

type fakeJobs struct {
	mu        sync.Mutex
	records   map[string]capture.JobRecord
	order     []string
	submits   []submitCall
	submitErr error
	listErr   error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{records: make(map[string]capture.JobRecord)}
}

func (f *fakeJobs) put(rec capture.JobRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.ID]; !ok {
		f.order = append(f.order, rec.ID)
	}
	f.records[rec.ID] = rec
}

func (f *fakeJobs) lastSubmit() submitCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[len(f.submits)-1]
}

func (f *fakeJobs) Submit(_ context.Context, rawURL, device string, budget int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits = append(f.submits, submitCall{url: rawURL, device: device, budget: budget})
	return fmt.Sprintf("job-%d", len(f.submits)), nil
}

func (f *fakeJobs) Cancel(_ context.Context, id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok || rec.State.Terminal() {
		return false
	}
	rec.State = capture.StateCanceled
	f.records[id] = rec
	return true
}

func (f *fakeJobs) Status(_ context.Context, id string) capture.JobRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id]; ok {
		return rec
	}
	return capture.UnknownRecord(id, time.Unix(0, 0).UTC())
}

func (f *fakeJobs) List(context.Context) ([]capture.JobRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]capture.JobRecord, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.records[id])
	}
	return out, nil
}

type fakeSubscriber struct {
	mu    sync.Mutex
	chans map[string]chan capture.JobRecord
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{chans: make(map[string]chan capture.JobRecord)}
}

func (f *fakeSubscriber) Subscribe(jobID string) (<-chan capture.JobRecord, func()) {
	ch := make(chan capture.JobRecord, 4)
	f.mu.Lock()
	f.chans[jobID] = ch
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeSubscriber) wait(t *testing.T, jobID string) chan capture.JobRecord {
	t.Helper()
	var ch chan capture.JobRecord
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		ch = f.chans[jobID]
		return ch != nil
	}, time.Second, 5*time.Millisecond)
	return ch
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

func newTestServer(t *testing.T, svc JobService, opts Options) *Server {
	t.Helper()
	kv, err := registryFile.New(filepath.Join(t.TempDir(), "domains.json"))
	require.NoError(t, err)
	return NewServer(svc, registry.NewDomains(kv), nil, opts, zap.NewNop())
}

func doJSON(t *testing.T, server *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func writeShot(t *testing.T, root, rel string, mod time.Time) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte("png"), 0o600))
	require.NoError(t, os.Chtimes(full, mod, mod))
}
