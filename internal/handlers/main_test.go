package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OmChillure/medchat/internal/handlers"
	"github.com/OmChillure/medchat/internal/models"
	"github.com/tmaxmax/go-sse"
)

type sseEvent struct {
	typ  string
	data string
}

type mockAnswerer struct {
	calls   chan string
	release chan struct{}
	answer  string
}

func newMockAnswerer(answer string) *mockAnswerer {
	return &mockAnswerer{
		calls:   make(chan string, 1),
		release: make(chan struct{}),
		answer:  answer,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewMain(t *testing.T) {
	main, err := handlers.NewMain(newMockAnswerer(""), testLogger())
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	main, err := handlers.NewMain(newMockAnswerer(""), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer main.Shutdown(context.Background())

	tests := []struct {
		name       string
		method     string
		url        string
		wantStatus int
		wantBody   string
		wantCookie bool
	}{
		{
			name:       "Home page",
			method:     http.MethodGet,
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "Welcome to Medical AI Assistant",
			wantCookie: true,
		},
		{
			name:       "Unknown path",
			method:     http.MethodGet,
			url:        "/nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Invalid method",
			method:     http.MethodPost,
			url:        "/",
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}

			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}

			if got := sessionCookie(w) != nil; got != tt.wantCookie {
				t.Errorf("HandleHome() sets cookie = %v, want %v", got, tt.wantCookie)
			}
		})
	}
}

func TestHandleChats(t *testing.T) {
	answerer := newMockAnswerer("**Rest** and fluids.")
	main, err := handlers.NewMain(answerer, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer main.Shutdown(context.Background())

	cookie := openSession(t, main)

	tests := []struct {
		name       string
		method     string
		message    string
		cookie     *http.Cookie
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			cookie:     cookie,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			cookie:     cookie,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Blank message",
			method:     http.MethodPost,
			message:    "   ",
			cookie:     cookie,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown session",
			method:     http.MethodPost,
			message:    "Hello",
			cookie:     &http.Cookie{Name: "medchat_session", Value: "missing"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Accepted",
			method:     http.MethodPost,
			message:    "I have a <b>fever</b>",
			cookie:     cookie,
			wantStatus: http.StatusAccepted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postChat(main, tt.method, tt.message, tt.cookie)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}

	select {
	case query := <-answerer.calls:
		if query != "I have a <b>fever</b>" {
			t.Errorf("Ask() query = %q, want %q", query, "I have a <b>fever</b>")
		}
	case <-time.After(time.Second):
		t.Fatal("Ask() was not called")
	}

	if w := postChat(main, http.MethodPost, "Another one", cookie); w.Code != http.StatusConflict {
		t.Errorf("HandleChats() while pending status = %v, want %v", w.Code, http.StatusConflict)
	}

	close(answerer.release)

	body := waitForBody(t, main, cookie, "<strong>Rest</strong>")
	if !strings.Contains(body, "I have a &lt;b&gt;fever&lt;/b&gt;") {
		t.Errorf("HandleHome() body = %v, want escaped user message", body)
	}
	if strings.Contains(body, "Another one") {
		t.Errorf("HandleHome() body = %v, rejected message should not be in transcript", body)
	}
}

func TestHandleChatsConcurrent(t *testing.T) {
	answerer := newMockAnswerer("ok")
	main, err := handlers.NewMain(answerer, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer main.Shutdown(context.Background())
	defer close(answerer.release)

	cookie := openSession(t, main)

	const n = 10
	codes := make(chan int, n)
	var wg sync.WaitGroup
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- postChat(main, http.MethodPost, "Hello", cookie).Code
		}()
	}
	wg.Wait()
	close(codes)

	// Every request learns its outcome; none is accepted and then dropped.
	got := map[int]int{}
	for code := range codes {
		got[code]++
	}
	if got[http.StatusAccepted] != 1 || got[http.StatusConflict] != n-1 {
		t.Errorf("status counts = %v, want 1 accepted and %d conflicts", got, n-1)
	}
}

func TestSessionEviction(t *testing.T) {
	answerer := newMockAnswerer("ok")
	main, err := handlers.NewMain(answerer, testLogger(), handlers.WithSessionTTL(time.Nanosecond))
	if err != nil {
		t.Fatal(err)
	}
	defer main.Shutdown(context.Background())
	defer close(answerer.release)

	waiting := openSession(t, main)
	if w := postChat(main, http.MethodPost, "Hello", waiting); w.Code != http.StatusAccepted {
		t.Fatalf("HandleChats() status = %v, want %v", w.Code, http.StatusAccepted)
	}
	idle := openSession(t, main)

	time.Sleep(2 * time.Millisecond)
	openSession(t, main)

	if w := postChat(main, http.MethodPost, "Hello", idle); w.Code != http.StatusNotFound {
		t.Errorf("HandleChats() on idle expired session status = %v, want %v", w.Code, http.StatusNotFound)
	}
	// A session waiting for its answer is kept.
	if w := postChat(main, http.MethodPost, "Hello", waiting); w.Code != http.StatusConflict {
		t.Errorf("HandleChats() on pending session status = %v, want %v", w.Code, http.StatusConflict)
	}
}

func TestSSEEvents(t *testing.T) {
	answerer := newMockAnswerer("**Rest** and fluids.")
	main, err := handlers.NewMain(answerer, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	srv := newTestServer(main)
	defer srv.Close()
	defer main.Shutdown(context.Background())

	cookie := openSession(t, main)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := openEvents(t, ctx, srv.URL, cookie)

	// The stream opens with the state of the session.
	expectEvent(t, events, "pending", "false")

	if code := postChatHTTP(t, srv.URL, "I have a fever", cookie); code != http.StatusAccepted {
		t.Fatalf("POST /chats status = %v, want %v", code, http.StatusAccepted)
	}

	expectEvent(t, events, "messages", "I have a fever")
	expectEvent(t, events, "pending", "true")

	<-answerer.calls
	close(answerer.release)

	expectEvent(t, events, "messages", "<strong>Rest</strong>")
	expectEvent(t, events, "pending", "false")
}

func TestSSEReconnectCatchesUp(t *testing.T) {
	answerer := newMockAnswerer("**Rest** and fluids.")
	main, err := handlers.NewMain(answerer, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	srv := newTestServer(main)
	defer srv.Close()
	defer main.Shutdown(context.Background())

	cookie := openSession(t, main)

	ctx, cancel := context.WithCancel(context.Background())
	events := openEvents(t, ctx, srv.URL, cookie)
	expectEvent(t, events, "pending", "false")

	if code := postChatHTTP(t, srv.URL, "Hello", cookie); code != http.StatusAccepted {
		t.Fatalf("POST /chats status = %v, want %v", code, http.StatusAccepted)
	}
	expectEvent(t, events, "messages", "Hello")
	expectEvent(t, events, "pending", "true")

	// The browser loses its stream while the answer arrives.
	cancel()
	<-answerer.calls
	close(answerer.release)
	waitForBody(t, main, cookie, `class="thinking hidden"`)

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	events = openEvents(t, ctx, srv.URL, cookie)

	expectEvent(t, events, "messages", "Hello")
	expectEvent(t, events, "messages", "<strong>Rest</strong>")
	expectEvent(t, events, "pending", "false")
}

func newTestServer(main handlers.Main) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", main.HandleHome)
	mux.HandleFunc("/chats", main.HandleChats)
	mux.HandleFunc("/sse/messages", main.HandleSSE)
	return httptest.NewServer(mux)
}

func openEvents(t *testing.T, ctx context.Context, baseURL string, cookie *http.Cookie) <-chan sseEvent {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/sse/messages", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.AddCookie(cookie)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /sse/messages error = %v", err)
	}

	events := make(chan sseEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				return
			}
			select {
			case events <- sseEvent{typ: ev.Type, data: ev.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}

func expectEvent(t *testing.T, events <-chan sseEvent, typ, contains string) {
	t.Helper()

	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("stream closed, want %s event containing %q", typ, contains)
		}
		if ev.typ != typ || !strings.Contains(ev.data, contains) {
			t.Fatalf("event = %s %q, want %s containing %q", ev.typ, ev.data, typ, contains)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no event, want %s containing %q", typ, contains)
	}
}

func postChatHTTP(t *testing.T, baseURL, message string, cookie *http.Cookie) int {
	t.Helper()

	form := url.Values{"message": {message}}
	req, err := http.NewRequest(http.MethodPost, baseURL+"/chats", strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /chats error = %v", err)
	}
	defer resp.Body.Close()
	return resp.StatusCode
}

func openSession(t *testing.T, main handlers.Main) *http.Cookie {
	t.Helper()

	w := httptest.NewRecorder()
	main.HandleHome(w, httptest.NewRequest(http.MethodGet, "/", nil))

	c := sessionCookie(w)
	if c == nil {
		t.Fatal("HandleHome() did not set a session cookie")
	}
	return c
}

func postChat(main handlers.Main, method, message string, cookie *http.Cookie) *httptest.ResponseRecorder {
	form := url.Values{"message": {message}}
	req := httptest.NewRequest(method, "/chats", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(cookie)

	w := httptest.NewRecorder()
	main.HandleChats(w, req)
	return w
}

func waitForBody(t *testing.T, main handlers.Main, cookie *http.Cookie, want string) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(cookie)
		w := httptest.NewRecorder()
		main.HandleHome(w, req)

		body := w.Body.String()
		if strings.Contains(body, want) {
			return body
		}
		if time.Now().After(deadline) {
			t.Fatalf("HandleHome() body = %v, want to contain %v", body, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == "medchat_session" {
			return c
		}
	}
	return nil
}

func (m *mockAnswerer) Ask(_ context.Context, query string, _ int) (models.QueryResponse, error) {
	m.calls <- query
	<-m.release

	answer := m.answer
	return models.QueryResponse{Query: query, Answer: &answer}, nil
}
