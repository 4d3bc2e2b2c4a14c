package api

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"msgarchive/internal/auth"
	"msgarchive/internal/config"
	"msgarchive/internal/events"
	"msgarchive/internal/metrics"
	"msgarchive/internal/models"
	"msgarchive/internal/service/archive"
	"msgarchive/internal/storage"
)

type envelope struct {
	OK            bool                   `json:"ok"`
	Error         string                 `json:"error"`
	Message       string                 `json:"message"`
	Warning       string                 `json:"warning"`
	Count         int                    `json:"count"`
	Duplicates    int                    `json:"duplicates"`
	ModifiedCount int64                  `json:"modifiedCount"`
	DeletedCount  int64                  `json:"deletedCount"`
	Status        string                 `json:"status"`
	Timestamp     string                 `json:"timestamp"`
	User          *auth.Identity         `json:"user"`
	Data          *models.Message        `json:"data"`
	Messages      []models.Message       `json:"messages"`
	Threads       []models.ThreadSummary `json:"threads"`
}

func TestHandlersEndToEndFlow(t *testing.T) {
	router, _, _ := newTestServer(t, testAuth())

	// bulk upload
	rec := doJSONRequest(t, router, http.MethodPost, "/upload-messages", gin.H{
		"messages": []gin.H{
			{"phone": "+1555", "body": "hi", "direction": "received", "timestamp": "2024-01-01T00:00:00Z"},
			{"phone": "+1555", "body": "yo", "direction": "sent", "timestamp": "2024-01-02T00:00:00Z"},
		},
	}, nil)
	assertStatus(t, rec, http.StatusOK)
	var upload envelope
	decodeJSON(t, rec.Body.Bytes(), &upload)
	if !upload.OK || upload.Count != 2 || upload.Duplicates != 0 || upload.Warning != "" {
		t.Fatalf("unexpected upload response %+v", upload)
	}

	// thread summaries
	rec = doJSONRequest(t, router, http.MethodGet, "/threads", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var threads envelope
	decodeJSON(t, rec.Body.Bytes(), &threads)
	if len(threads.Threads) != 1 {
		t.Fatalf("expected 1 thread, got %+v", threads.Threads)
	}
	if th := threads.Threads[0]; th.Phone != "+1555" || th.LastBody != "yo" ||
		!th.Last.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected thread %+v", th)
	}
	if !strings.Contains(rec.Body.String(), `"last":"2024-01-02T00:00:00Z"`) {
		t.Fatalf("expected RFC 3339 last, got %s", rec.Body.String())
	}

	// thread messages oldest first
	msgs := fetchThread(t, router, "+1555")
	if len(msgs) != 2 || msgs[0].Body != "hi" || msgs[1].Body != "yo" {
		t.Fatalf("unexpected thread messages %+v", msgs)
	}

	// create
	rec = doJSONRequest(t, router, http.MethodPost, "/messages", gin.H{
		"phone": "+1555", "name": "Alice", "body": "new", "direction": "sent",
	}, nil)
	assertStatus(t, rec, http.StatusCreated)
	var created envelope
	decodeJSON(t, rec.Body.Bytes(), &created)
	if created.Data == nil || created.Data.ID == "" || created.Data.Name == nil || *created.Data.Name != "Alice" {
		t.Fatalf("unexpected create response %s", rec.Body.String())
	}
	id := created.Data.ID

	// update body only
	rec = doJSONRequest(t, router, http.MethodPut, "/messages/"+id, gin.H{"body": "edited"}, nil)
	assertStatus(t, rec, http.StatusOK)
	var updated envelope
	decodeJSON(t, rec.Body.Bytes(), &updated)
	if updated.Data.Body != "edited" || updated.Data.Name == nil || *updated.Data.Name != "Alice" {
		t.Fatalf("unexpected update response %s", rec.Body.String())
	}

	// explicit null name clears it
	rec = doJSONRequest(t, router, http.MethodPut, "/messages/"+id, map[string]interface{}{"name": nil}, nil)
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &updated)
	if updated.Data.Name != nil {
		t.Fatalf("expected name cleared, got %s", rec.Body.String())
	}

	// rename thread
	rec = doJSONRequest(t, router, http.MethodPut, "/threads/+1555", gin.H{"name": "Bob"}, nil)
	assertStatus(t, rec, http.StatusOK)
	var renamed envelope
	decodeJSON(t, rec.Body.Bytes(), &renamed)
	if renamed.ModifiedCount != 3 {
		t.Fatalf("expected 3 modified, got %s", rec.Body.String())
	}
	for _, m := range fetchThread(t, router, "+1555") {
		if m.Name == nil || *m.Name != "Bob" {
			t.Fatalf("rename not applied to %+v", m)
		}
	}

	// list all, newest first
	rec = doJSONRequest(t, router, http.MethodGet, "/messages", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var all envelope
	decodeJSON(t, rec.Body.Bytes(), &all)
	if len(all.Messages) != 3 || all.Messages[0].ID != id {
		t.Fatalf("unexpected list all %s", rec.Body.String())
	}

	// delete one message
	rec = doJSONRequest(t, router, http.MethodDelete, "/messages/"+id, nil, nil)
	assertStatus(t, rec, http.StatusOK)
	rec = doJSONRequest(t, router, http.MethodDelete, "/messages/"+id, nil, nil)
	assertStatus(t, rec, http.StatusNotFound)
	var missing envelope
	decodeJSON(t, rec.Body.Bytes(), &missing)
	if missing.OK || missing.Error != "not_found" {
		t.Fatalf("unexpected not found envelope %+v", missing)
	}

	// delete the thread, then again
	rec = doJSONRequest(t, router, http.MethodDelete, "/threads/%2B1555", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var deleted envelope
	decodeJSON(t, rec.Body.Bytes(), &deleted)
	if deleted.DeletedCount != 2 {
		t.Fatalf("expected 2 deleted, got %s", rec.Body.String())
	}
	rec = doJSONRequest(t, router, http.MethodDelete, "/threads/+1555", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &deleted)
	if deleted.DeletedCount != 0 {
		t.Fatalf("expected 0 deleted, got %s", rec.Body.String())
	}
	if msgs := fetchThread(t, router, "+1555"); len(msgs) != 0 {
		t.Fatalf("thread not emptied: %+v", msgs)
	}
	rec = doJSONRequest(t, router, http.MethodGet, "/threads", nil, nil)
	if !strings.Contains(rec.Body.String(), `"threads":[]`) {
		t.Fatalf("expected empty threads array, got %s", rec.Body.String())
	}
}

func TestLogin(t *testing.T) {
	router, _, _ := newTestServer(t, testAuth())

	cases := []struct {
		name   string
		body   interface{}
		status int
		code   string
	}{
		{"password", gin.H{"email": "ADMIN@example.com", "password": "hunter2"}, http.StatusOK, ""},
		{"pin", gin.H{"pin": "4321"}, http.StatusOK, ""},
		{"wrong password", gin.H{"email": "admin@example.com", "password": "nope"}, http.StatusUnauthorized, "invalid_credentials"},
		{"wrong pin", gin.H{"pin": "0000"}, http.StatusUnauthorized, "invalid_credentials"},
		{"missing", gin.H{"email": "admin@example.com"}, http.StatusBadRequest, "credentials_required"},
	}
	for _, tc := range cases {
		rec := doJSONRequest(t, router, http.MethodPost, "/login", tc.body, nil)
		if rec.Code != tc.status {
			t.Fatalf("%s: unexpected status %d body %s", tc.name, rec.Code, rec.Body.String())
		}
		var resp envelope
		decodeJSON(t, rec.Body.Bytes(), &resp)
		if resp.Error != tc.code {
			t.Fatalf("%s: expected code %q, got %q", tc.name, tc.code, resp.Error)
		}
		if tc.status == http.StatusOK && (!resp.OK || resp.User == nil || resp.Message != "Login successful") {
			t.Fatalf("%s: unexpected success body %s", tc.name, rec.Body.String())
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusBadRequest)
	var resp envelope
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp.Error != "invalid_request_body" {
		t.Fatalf("expected invalid_request_body, got %+v", resp)
	}
}

func TestLoginUnconfigured(t *testing.T) {
	router, _, _ := newTestServer(t, config.AuthConfig{})
	for _, body := range []interface{}{
		gin.H{"email": "admin@example.com", "password": "hunter2"},
		gin.H{"pin": "4321"},
		gin.H{},
	} {
		rec := doJSONRequest(t, router, http.MethodPost, "/login", body, nil)
		assertStatus(t, rec, http.StatusInternalServerError)
		var resp envelope
		decodeJSON(t, rec.Body.Bytes(), &resp)
		if resp.Error != "server_configuration_error" {
			t.Fatalf("expected configuration error, got %+v", resp)
		}
	}
}

func TestUploadValidation(t *testing.T) {
	router, db, _ := newTestServer(t, testAuth())

	valid := gin.H{"phone": "+1", "body": "ok", "direction": "sent", "timestamp": "2024-01-01T00:00:00Z"}
	cases := []struct {
		name string
		body interface{}
		code string
	}{
		{"missing", gin.H{}, "messages_required"},
		{"not array", gin.H{"messages": "nope"}, "invalid_format"},
		{"empty", gin.H{"messages": []gin.H{}}, "empty_array"},
		{"missing field", gin.H{"messages": []gin.H{valid, {"phone": "+1", "direction": "sent", "timestamp": "2024-01-01"}}}, "invalid_message_structure"},
		{"wrong type", gin.H{"messages": []interface{}{valid, 42}}, "invalid_message_structure"},
		{"direction", gin.H{"messages": []gin.H{{"phone": "+1", "body": "x", "direction": "up", "timestamp": "2024-01-01"}}}, "invalid_direction"},
		{"timestamp", gin.H{"messages": []gin.H{{"phone": "+1", "body": "x", "direction": "sent", "timestamp": "soon"}}}, "invalid_timestamp"},
		{"timestamp out of range", gin.H{"messages": []gin.H{valid, {"phone": "+1999", "body": "far", "direction": "sent", "timestamp": 999999999999999}}}, "invalid_timestamp"},
	}
	for _, tc := range cases {
		rec := doJSONRequest(t, router, http.MethodPost, "/upload-messages", tc.body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: unexpected status %d body %s", tc.name, rec.Code, rec.Body.String())
		}
		var resp envelope
		decodeJSON(t, rec.Body.Bytes(), &resp)
		if resp.OK || resp.Error != tc.code {
			t.Fatalf("%s: expected %s, got %+v", tc.name, tc.code, resp)
		}
	}

	for _, bad := range []gin.H{
		{"phone": "+1", "body": "x", "direction": "bad", "timestamp": "2024-01-01"},
		{"phone": "+1999", "body": "far", "direction": "sent", "timestamp": 999999999999999},
	} {
		rec := doJSONRequest(t, router, http.MethodPost, "/upload-messages", gin.H{
			"messages": []gin.H{valid, bad},
		}, nil)
		var resp envelope
		decodeJSON(t, rec.Body.Bytes(), &resp)
		if !strings.Contains(resp.Message, "index 1") {
			t.Fatalf("expected index in message, got %q", resp.Message)
		}
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("rejected uploads stored %d messages", count)
	}
}

func TestUploadDuplicatesAndNumericTimestamps(t *testing.T) {
	router, _, _ := newTestServer(t, testAuth())
	body := gin.H{"messages": []gin.H{
		{"id": "export-1", "phone": "+2", "name": "Zed", "body": "a", "direction": "sent", "timestamp": 1704067200000},
		{"id": "export-2", "phone": "+2", "body": "b", "direction": "received", "timestamp": "2024-01-01 08:00:00"},
	}}
	rec := doJSONRequest(t, router, http.MethodPost, "/upload-messages", body, nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doJSONRequest(t, router, http.MethodPost, "/upload-messages", body, nil)
	assertStatus(t, rec, http.StatusOK)
	var resp envelope
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp.Count != 0 || resp.Duplicates != 2 || resp.Warning == "" {
		t.Fatalf("expected duplicates warning, got %s", rec.Body.String())
	}

	msgs := fetchThread(t, router, "+2")
	if len(msgs) != 2 || !msgs[0].Timestamp.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[1].Name == nil || *msgs[1].Name != "Zed" {
		t.Fatalf("contact name not applied to thread: %+v", msgs[1])
	}
}

func TestUploadKeepsIdenticalMessages(t *testing.T) {
	router, _, _ := newTestServer(t, testAuth())
	m := gin.H{"phone": "+1555", "body": "ok", "direction": "sent", "timestamp": "2024-01-01T00:00:00Z"}

	rec := doJSONRequest(t, router, http.MethodPost, "/upload-messages", gin.H{"messages": []gin.H{m, m}}, nil)
	assertStatus(t, rec, http.StatusOK)
	var resp envelope
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp.Count != 2 || resp.Duplicates != 0 || resp.Warning != "" {
		t.Fatalf("expected both messages stored, got %s", rec.Body.String())
	}
	if msgs := fetchThread(t, router, "+1555"); len(msgs) != 2 {
		t.Fatalf("expected 2 stored messages, got %+v", msgs)
	}
}

func TestMessageValidationAndNotFound(t *testing.T) {
	router, _, _ := newTestServer(t, testAuth())

	rec := doJSONRequest(t, router, http.MethodPost, "/messages", gin.H{"phone": "+1", "body": "x"}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	var resp envelope
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp.Error != "missing_fields" {
		t.Fatalf("expected missing_fields, got %+v", resp)
	}

	rec = doJSONRequest(t, router, http.MethodPost, "/messages", gin.H{"phone": "+1", "body": "x", "direction": "sideways"}, nil)
	assertStatus(t, rec, http.StatusBadRequest)
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp.Error != "invalid_direction" {
		t.Fatalf("expected invalid_direction, got %+v", resp)
	}

	rec = doJSONRequest(t, router, http.MethodPut, "/messages/does-not-exist", gin.H{"body": "x"}, nil)
	assertStatus(t, rec, http.StatusNotFound)

	rec = doJSONRequest(t, router, http.MethodPut, "/threads/+nobody", gin.H{"name": "Ghost"}, nil)
	assertStatus(t, rec, http.StatusOK)
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp.ModifiedCount != 0 {
		t.Fatalf("expected 0 modified, got %+v", resp)
	}

	rec = doJSONRequest(t, router, http.MethodGet, "/no/such/route", nil, nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestHealth(t *testing.T) {
	router, db, _ := newTestServer(t, testAuth())
	rec := doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var resp envelope
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if !resp.OK || resp.Status != "healthy" {
		t.Fatalf("unexpected health %+v", resp)
	}
	if _, err := time.Parse(time.RFC3339Nano, resp.Timestamp); err != nil {
		t.Fatalf("bad timestamp %q: %v", resp.Timestamp, err)
	}

	db.Close()
	rec = doJSONRequest(t, router, http.MethodGet, "/health", nil, nil)
	assertStatus(t, rec, http.StatusServiceUnavailable)
}

func TestStaticFilesAndRedirect(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "login.html"), []byte("<h1>login</h1>"), 0o644); err != nil {
		t.Fatalf("write static file: %v", err)
	}
	router, _, _ := newTestServerWith(t, testAuth(), Options{StaticDir: dir})

	rec := doJSONRequest(t, router, http.MethodGet, "/", nil, nil)
	assertStatus(t, rec, http.StatusFound)
	if loc := rec.Header().Get("Location"); loc != "/login.html" {
		t.Fatalf("unexpected redirect %q", loc)
	}

	rec = doJSONRequest(t, router, http.MethodGet, "/login.html", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "login") {
		t.Fatalf("static file not served: %s", rec.Body.String())
	}

	rec = doJSONRequest(t, router, http.MethodGet, "/../../etc/passwd", nil, nil)
	assertStatus(t, rec, http.StatusNotFound)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS([]string{"https://app.example"}))
	router.GET("/threads", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/threads", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusNoContent)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("missing allow origin header: %v", rec.Header())
	}

	req = httptest.NewRequest(http.MethodGet, "/threads", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assertStatus(t, rec, http.StatusOK)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected allow origin for foreign origin")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	router, _, _ := newTestServerWith(t, testAuth(), Options{Metrics: m})

	rec := doJSONRequest(t, router, http.MethodPost, "/upload-messages", gin.H{"messages": []gin.H{
		{"phone": "+3", "body": "m", "direction": "sent", "timestamp": "2024-05-01T00:00:00Z"},
	}}, nil)
	assertStatus(t, rec, http.StatusOK)

	rec = doJSONRequest(t, router, http.MethodGet, "/metrics", nil, nil)
	assertStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "msgarchive_imported_messages_total 1") {
		t.Fatalf("import not counted:\n%s", rec.Body.String())
	}
}

func TestEventsStream(t *testing.T) {
	broker := events.NewBroker(nil)
	defer broker.Close()
	router, _, handler := newTestServerWith(t, testAuth(), Options{Events: broker})
	handler.pingInterval = 20 * time.Millisecond

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type %q", ct)
	}

	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	rec := doJSONRequest(t, router, http.MethodPost, "/messages", gin.H{
		"phone": "+9", "body": "live", "direction": "received",
	}, nil)
	assertStatus(t, rec, http.StatusCreated)

	var raw bytes.Buffer
	sawPing := false
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		raw.WriteString(line + "\n")
		if line == ": ping" {
			sawPing = true
		}
		if strings.HasPrefix(line, "data:") {
			break
		}
	}
	var got []sseEvent
	for _, ev := range parseSSE(t, raw.String()) {
		if ev.Name != "" {
			got = append(got, ev)
		}
	}
	if len(got) != 1 || got[0].Name != events.MessageCreated {
		t.Fatalf("unexpected events %+v (raw %q)", got, raw.String())
	}
	var ev events.Event
	decodeJSON(t, []byte(got[0].Data), &ev)
	if ev.Phone != "+9" || ev.ID == "" || ev.At.IsZero() {
		t.Fatalf("unexpected event payload %+v", ev)
	}

	for !sawPing && scanner.Scan() {
		sawPing = scanner.Text() == ": ping"
	}
	if !sawPing {
		t.Fatalf("expected keepalive ping comment")
	}
}

func TestEventsStreamEndsWhenBrokerCloses(t *testing.T) {
	broker := events.NewBroker(nil)
	defer broker.Close()
	router, _, _ := newTestServerWith(t, testAuth(), Options{Events: broker})

	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for broker.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	broker.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("stream ended with error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("stream still open after broker close")
	}
	for broker.Subscribers() != 0 && time.Now().Before(deadline.Add(time.Second)) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := broker.Subscribers(); n != 0 {
		t.Fatalf("expected subscription released, got %d", n)
	}
}

type sseEvent struct {
	Name string
	Data string
}

func parseSSE(t *testing.T, payload string) []sseEvent {
	t.Helper()
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	chunks := strings.Split(payload, "\n\n")
	var events []sseEvent
	for _, chunk := range chunks {
		lines := strings.Split(strings.TrimSpace(chunk), "\n")
		if len(lines) == 0 {
			continue
		}
		var evt sseEvent
		for _, line := range lines {
			switch {
			case strings.HasPrefix(line, "event:"):
				evt.Name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
				if evt.Data == "" {
					evt.Data = data
				} else {
					evt.Data += "\n" + data
				}
			}
		}
		events = append(events, evt)
	}
	return events
}

func testAuth() config.AuthConfig {
	return config.AuthConfig{Email: "admin@example.com", Password: "hunter2", PIN: "4321"}
}

func newTestServer(t *testing.T, authCfg config.AuthConfig) (*gin.Engine, *sql.DB, *Handler) {
	t.Helper()
	return newTestServerWith(t, authCfg, Options{})
}

func newTestServerWith(t *testing.T, authCfg config.AuthConfig, opts Options) (*gin.Engine, *sql.DB, *Handler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	var publisher archive.Publisher
	if opts.Events != nil {
		publisher = opts.Events
	}
	svc, err := archive.NewService(db, "sqlite3", archive.Options{Events: publisher})
	if err != nil {
		t.Fatalf("new archive service: %v", err)
	}
	handler := NewHandler(svc, auth.NewStaticVerifier(authCfg), opts)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, handler
}

func fetchThread(t *testing.T, router *gin.Engine, phone string) []models.Message {
	t.Helper()
	rec := doJSONRequest(t, router, http.MethodGet, "/messages/"+phone, nil, nil)
	assertStatus(t, rec, http.StatusOK)
	var resp envelope
	decodeJSON(t, rec.Body.Bytes(), &resp)
	if resp.Messages == nil {
		t.Fatalf("expected messages array, got %s", rec.Body.String())
	}
	return resp.Messages
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}
