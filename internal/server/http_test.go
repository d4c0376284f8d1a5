package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	calendarv3 "google.golang.org/api/calendar/v3"
	"google.golang.org/genai"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/gemini"
	"github.com/teemow/calagent/internal/google"
	"github.com/teemow/calagent/internal/schedule"
)

type fakeFiles struct {
	uploaded []string
	deleted  []string
}

func (f *fakeFiles) UploadFromPath(_ context.Context, path string, cfg *genai.UploadFileConfig) (*genai.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.uploaded = append(f.uploaded, string(data))
	return &genai.File{Name: "files/upload", URI: "https://files.example/upload", MIMEType: cfg.MIMEType, State: genai.FileStateActive}, nil
}

func (f *fakeFiles) Get(_ context.Context, name string, _ *genai.GetFileConfig) (*genai.File, error) {
	return &genai.File{Name: name, State: genai.FileStateActive}, nil
}

func (f *fakeFiles) Delete(_ context.Context, name string, _ *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error) {
	f.deleted = append(f.deleted, name)
	return &genai.DeleteFileResponse{}, nil
}

type fakeModels struct {
	body string
}

func (m *fakeModels) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{{Text: m.body}}},
		}},
	}, nil
}

type fakeCalendar struct {
	inserted []*calendarv3.Event
}

func (c *fakeCalendar) InsertEvent(_ context.Context, _ string, ev *calendarv3.Event) (*calendarv3.Event, error) {
	c.inserted = append(c.inserted, ev)
	created := *ev
	created.HtmlLink = fmt.Sprintf("https://calendar.example/evt%d", len(c.inserted))
	return &created, nil
}

type testServer struct {
	files    *fakeFiles
	calendar *fakeCalendar
	handler  http.Handler
	sc       *ServerContext
	http     *HTTPServer
}

func newTestServer(t *testing.T, modelBody string, connectErr error) *testServer {
	t.Helper()
	ts := &testServer{files: &fakeFiles{}, calendar: &fakeCalendar{}}
	connect := func(context.Context) (calendar.Inserter, error) {
		if connectErr != nil {
			return nil, connectErr
		}
		return ts.calendar, nil
	}
	svc := schedule.NewService(
		gemini.NewPreparer(ts.files),
		gemini.NewExtractor(&fakeModels{body: modelBody}),
		connect,
		schedule.WithTempDir(t.TempDir()),
	)
	ts.sc = NewServerContext(context.Background(), svc)
	ts.http = NewHTTPServer(ts.sc, HTTPServerConfig{Version: "test"})
	ts.handler = ts.http.Handler()
	return ts
}

type formFile struct {
	name    string
	content string
}

func multipartRequest(t *testing.T, fields map[string]string, file *formFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	if file != nil {
		fw, err := w.CreateFormFile("file", file.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(file.content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/schedule_event", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const oneEvent = `[{"summary": "dentist", "start_datetime": "2025-03-21T23:00:00", "end_datetime": "2025-03-21T00:30:00"}]`

func TestScheduleEvent_Text(t *testing.T) {
	ts := newTestServer(t, oneEvent, nil)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, multipartRequest(t, map[string]string{
		"instruction": "dentist friday 11pm for 90 minutes",
		"timezone":    "Europe/Berlin",
	}, nil))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp schedule.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, schedule.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "Europe/Berlin", resp.TimeZone)
	assert.NotEmpty(t, resp.RequestID)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "https://calendar.example/evt1", resp.Events[0].Link)
	assert.Equal(t, "2025-03-22T00:30:00", resp.Events[0].EndDateTime)

	require.Len(t, ts.calendar.inserted, 1)
	assert.Equal(t, "Europe/Berlin", ts.calendar.inserted[0].Start.TimeZone)
}

func TestScheduleEvent_FileWithBlankInstruction(t *testing.T) {
	ts := newTestServer(t, oneEvent, nil)

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, multipartRequest(t,
		map[string]string{"instruction": ""},
		&formFile{name: "flyer.txt", content: "Dentist on Friday at 11pm"},
	))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"Dentist on Friday at 11pm"}, ts.files.uploaded)
	assert.Equal(t, []string{"files/upload"}, ts.files.deleted)
}

func TestScheduleEvent_Errors(t *testing.T) {
	tests := []struct {
		name       string
		modelBody  string
		connectErr error
		fields     map[string]string
		wantStatus int
		wantDetail string
	}{
		{
			name:       "missing instruction field",
			modelBody:  oneEvent,
			fields:     map[string]string{"timezone": "UTC"},
			wantStatus: http.StatusBadRequest,
			wantDetail: "Missing form field: instruction.",
		},
		{
			name:       "blank instruction without file",
			modelBody:  oneEvent,
			fields:     map[string]string{"instruction": "   "},
			wantStatus: http.StatusBadRequest,
			wantDetail: "Provide an instruction or a file to analyze.",
		},
		{
			name:       "no events extracted",
			modelBody:  `[]`,
			fields:     map[string]string{"instruction": "how are you"},
			wantStatus: http.StatusBadRequest,
			wantDetail: "The AI could not extract a valid event (the model returned 0 events or an invalid format).",
		},
		{
			name:       "unknown time zone",
			modelBody:  oneEvent,
			fields:     map[string]string{"instruction": "dentist", "timezone": "Mars/Olympus"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "credentials unavailable",
			modelBody:  oneEvent,
			connectErr: fmt.Errorf("%w: no token", google.ErrCredentials),
			fields:     map[string]string{"instruction": "dentist"},
			wantStatus: http.StatusInternalServerError,
			wantDetail: "Google Calendar authentication failed.",
		},
		{
			name:       "unexpected failure",
			modelBody:  oneEvent,
			connectErr: errors.New("boom"),
			fields:     map[string]string{"instruction": "dentist"},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, tt.modelBody, tt.connectErr)

			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, multipartRequest(t, tt.fields, nil))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			body := decodeBody(t, rec)
			require.Contains(t, body, "detail")
			if tt.wantDetail != "" {
				assert.Equal(t, tt.wantDetail, body["detail"])
			}
			assert.Empty(t, ts.calendar.inserted)
		})
	}
}

func TestScheduleEvent_NotMultipart(t *testing.T) {
	ts := newTestServer(t, oneEvent, nil)

	req := httptest.NewRequest(http.MethodPost, "/schedule_event", bytes.NewBufferString(`{"instruction":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduleEvent_TooLarge(t *testing.T) {
	ts := newTestServer(t, oneEvent, nil)
	ts.http.config.MaxUploadBytes = 512
	handler := ts.http.Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t,
		map[string]string{"instruction": "x"},
		&formFile{name: "big.txt", content: string(bytes.Repeat([]byte("a"), 4096))},
	))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, ts.files.uploaded)
}

func TestScheduleEvent_AfterShutdown(t *testing.T) {
	ts := newTestServer(t, oneEvent, nil)
	require.NoError(t, ts.sc.Shutdown())

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, multipartRequest(t, map[string]string{"instruction": "dentist"}, nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, ts.calendar.inserted)
}

func TestHandler_Routes(t *testing.T) {
	ts := newTestServer(t, oneEvent, nil)

	tests := []struct {
		method     string
		path       string
		wantStatus int
		wantKey    string
		wantValue  string
	}{
		{http.MethodGet, "/", http.StatusOK, "Hello", "Calendar agent is active. Use /schedule_event."},
		{http.MethodGet, "/health", http.StatusOK, "message", "Calendar agent is running."},
		{http.MethodGet, "/healthz", http.StatusOK, "status", "ok"},
		{http.MethodGet, "/readyz", http.StatusOK, "status", "ok"},
		{http.MethodGet, "/healthz/detailed", http.StatusOK, "version", "test"},
		{http.MethodGet, "/schedule_event", http.StatusMethodNotAllowed, "", ""},
		{http.MethodGet, "/missing", http.StatusNotFound, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantKey != "" {
				assert.Equal(t, tt.wantValue, decodeBody(t, rec)[tt.wantKey])
			}
		})
	}
}

func TestHandler_ReadinessAfterShutdown(t *testing.T) {
	ts := newTestServer(t, oneEvent, nil)
	require.NoError(t, ts.http.Shutdown(context.Background()))

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "not ready", body["status"])
}

func TestHandler_CORS(t *testing.T) {
	ts := newTestServer(t, oneEvent, nil)

	req := httptest.NewRequest(http.MethodOptions, "/schedule_event", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	get := httptest.NewRequest(http.MethodGet, "/", nil)
	get.Header.Set("Origin", "https://app.example")
	rec = httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, get)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
