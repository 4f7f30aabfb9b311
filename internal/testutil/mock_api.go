// Package testutil provides a scripted JSON API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// Post is the record served by /posts/{id}.
type Post struct {
	UserID int    `json:"userId"`
	ID     int    `json:"id"`
	Title  string `json:"title,omitempty"`
	Body   string `json:"body"`
}

// PostBehavior scripts the answer for one post id.
type PostBehavior struct {
	// Delay before answering; abandoned when the client goes away.
	Delay time.Duration

	// Status overrides 200 OK.
	Status int

	// NoTitle omits the title field.
	NoTitle bool
}

// MockAPI is a configurable JSON API for testing fan-out batches.
type MockAPI struct {
	server *httptest.Server
	mu     sync.Mutex

	handlers  map[string]http.HandlerFunc
	posts     map[int]PostBehavior
	pages     int
	perPage   int
	remaining int

	// Tracking
	requestCount     int
	conditionalCount int
	inflight         int
	peakInflight     int
	cancelled        int
	pathCounts       map[string]int
}

// NewMockAPI starts a mock server. Every post exists; Pages defaults to 3
// pages of 5 items.
func NewMockAPI() *MockAPI {
	m := &MockAPI{
		handlers:   make(map[string]http.HandlerFunc),
		posts:      make(map[int]PostBehavior),
		pages:      3,
		perPage:    5,
		remaining:  -1,
		pathCounts: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /posts/{id}", m.handlePost)
	mux.HandleFunc("GET /pages", m.handlePages)

	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.track(r)
		defer m.untrack()

		m.mu.Lock()
		handler, exists := m.handlers[r.URL.Path]
		m.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	}))

	return m
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Client returns an HTTP client for the server.
func (m *MockAPI) Client() *http.Client {
	return m.server.Client()
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetHandler overrides the handler for an exact path.
func (m *MockAPI) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetPost scripts the answer for one post.
func (m *MockAPI) SetPost(id int, b PostBehavior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[id] = b
}

// SetPages configures the paged endpoint.
func (m *MockAPI) SetPages(pages, perPage int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = pages
	m.perPage = perPage
}

// SetRateLimitRemaining makes every response report this budget. Negative
// disables the headers.
func (m *MockAPI) SetRateLimitRemaining(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = n
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// PathCount returns the number of requests made to path.
func (m *MockAPI) PathCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pathCounts[path]
}

// ConditionalCount returns the number of conditional requests.
func (m *MockAPI) ConditionalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conditionalCount
}

// PeakInflight returns the highest number of concurrent requests seen.
func (m *MockAPI) PeakInflight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakInflight
}

// CancelledCount returns how many delayed requests the client abandoned.
func (m *MockAPI) CancelledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelled
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.conditionalCount = 0
	m.peakInflight = 0
	m.cancelled = 0
	m.pathCounts = make(map[string]int)
}

func (m *MockAPI) track(r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCount++
	m.pathCounts[r.URL.Path]++
	if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
		m.conditionalCount++
	}
	m.inflight++
	m.peakInflight = max(m.peakInflight, m.inflight)
}

func (m *MockAPI) untrack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
}

func (m *MockAPI) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid id"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	b := m.posts[id]
	m.mu.Unlock()

	if b.Delay > 0 {
		timer := time.NewTimer(b.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.Context().Done():
			m.mu.Lock()
			m.cancelled++
			m.mu.Unlock()
			return
		}
	}

	m.writeCommonHeaders(w)

	if b.Status != 0 && b.Status != http.StatusOK {
		w.WriteHeader(b.Status)
		fmt.Fprintf(w, `{"error":"post %d unavailable"}`, id)
		return
	}

	etag := fmt.Sprintf(`"post-%d"`, id)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=60")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	post := Post{UserID: 1 + (id-1)/10, ID: id, Body: fmt.Sprintf("body of post %d", id)}
	if !b.NoTitle {
		post.Title = fmt.Sprintf("post %d", id)
	}
	_ = json.NewEncoder(w).Encode(post)
}

func (m *MockAPI) handlePages(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	pages, perPage := m.pages, m.perPage
	m.mu.Unlock()

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			http.Error(w, `{"error":"invalid page"}`, http.StatusBadRequest)
			return
		}
		page = p
	}

	m.writeCommonHeaders(w)
	w.Header().Set("X-Pages", strconv.Itoa(pages))

	if page > pages {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"page out of range"}`))
		return
	}

	items := make([]int, 0, perPage)
	for i := range perPage {
		items = append(items, (page-1)*perPage+i+1)
	}
	_ = json.NewEncoder(w).Encode(items)
}

func (m *MockAPI) writeCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")

	m.mu.Lock()
	remaining := m.remaining
	m.mu.Unlock()

	if remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", "60")
	}
}
