package registry

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// stubRegistry 是一个按路径返回固定响应的假 Registry，并统计每个路径的请求次数。
type stubRegistry struct {
	server *httptest.Server

	mu        sync.Mutex
	responses map[string]stubResponse
	hits      map[string]int
	accept    map[string]string
	gate      chan struct{}
}

type stubResponse struct {
	status int
	body   []byte
}

func newStubRegistry(t *testing.T) *stubRegistry {
	t.Helper()
	stub := &stubRegistry{
		responses: make(map[string]stubResponse),
		hits:      make(map[string]int),
		accept:    make(map[string]string),
	}
	stub.server = httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(stub.server.Close)
	return stub
}

func (s *stubRegistry) serve(w http.ResponseWriter, r *http.Request) {
	p := r.URL.EscapedPath()
	s.mu.Lock()
	s.hits[p]++
	s.accept[p] = r.Header.Get("Accept")
	resp, ok := s.responses[p]
	gate := s.gate
	s.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

func (s *stubRegistry) set(p string, status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[p] = stubResponse{status: status, body: body}
}

func (s *stubRegistry) setJSON(p, body string) {
	s.set(p, http.StatusOK, []byte(body))
}

func (s *stubRegistry) hitCount(p string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[p]
}

func (s *stubRegistry) acceptHeader(p string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accept[p]
}

// hold 让后续请求阻塞，直到返回的函数被调用。
func (s *stubRegistry) hold() func() {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return func() { close(gate) }
}

func (s *stubRegistry) client(t *testing.T, coalesce bool) *Client {
	t.Helper()
	client, err := NewClient(ClientOptions{
		BaseURL:    s.server.URL + "/",
		HTTPClient: s.server.Client(),
		Coalesce:   coalesce,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}
