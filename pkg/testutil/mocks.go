package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockRequest logs incoming requests
type MockRequest struct {
	Method    string
	Path      string
	Query     map[string]string
	Timestamp time.Time
}

// MockRouterOSServer emulates the MikroTik RouterOS v7 REST API for the
// hotspot user and active-session resources.
type MockRouterOSServer struct {
	Server   *httptest.Server
	Username string
	Password string

	mu         sync.RWMutex
	users      map[string]string // .id -> name
	active     map[string]string // .id -> user
	nextID     int
	RequestLog []MockRequest
	ShouldFail bool
}

func NewMockRouterOSServer(username, password string) *MockRouterOSServer {
	mock := &MockRouterOSServer{
		Username: username,
		Password: password,
		users:    make(map[string]string),
		active:   make(map[string]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/rest/ip/hotspot/user", mock.handleList(mock.users, "name"))
	mux.HandleFunc("/rest/ip/hotspot/user/", mock.handleDelete(mock.users, "/rest/ip/hotspot/user/"))
	mux.HandleFunc("/rest/ip/hotspot/active", mock.handleList(mock.active, "user"))
	mux.HandleFunc("/rest/ip/hotspot/active/", mock.handleDelete(mock.active, "/rest/ip/hotspot/active/"))

	mock.Server = httptest.NewServer(mock.withAuth(mux))
	return mock
}

func (m *MockRouterOSServer) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.RequestLog = append(m.RequestLog, MockRequest{
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     parseQuery(r),
			Timestamp: time.Now(),
		})
		fail := m.ShouldFail
		m.mu.Unlock()

		if fail {
			writeRouterOSError(w, http.StatusInternalServerError, "internal error")
			return
		}

		user, pass, ok := r.BasicAuth()
		if !ok || user != m.Username || pass != m.Password {
			writeRouterOSError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *MockRouterOSServer) handleList(items map[string]string, field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeRouterOSError(w, http.StatusBadRequest, "unsupported method")
			return
		}

		want := r.URL.Query().Get(field)

		m.mu.RLock()
		result := make([]map[string]string, 0)
		for id, value := range items {
			if want == "" || want == value {
				result = append(result, map[string]string{".id": id, field: value})
			}
		}
		m.mu.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

func (m *MockRouterOSServer) handleDelete(items map[string]string, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			writeRouterOSError(w, http.StatusBadRequest, "unsupported method")
			return
		}

		id := strings.TrimPrefix(r.URL.Path, prefix)

		m.mu.Lock()
		defer m.mu.Unlock()

		if _, exists := items[id]; !exists {
			writeRouterOSError(w, http.StatusNotFound, "no such item")
			return
		}
		delete(items, id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// AddUser registers a hotspot user and returns its RouterOS id.
func (m *MockRouterOSServer) AddUser(name string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("*%X", m.nextID)
	m.users[id] = name
	return id
}

// AddActiveSession registers a live hotspot session for user.
func (m *MockRouterOSServer) AddActiveSession(user string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("*%X", m.nextID)
	m.active[id] = user
	return id
}

func (m *MockRouterOSServer) HasUser(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, n := range m.users {
		if n == name {
			return true
		}
	}
	return false
}

func (m *MockRouterOSServer) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

func (m *MockRouterOSServer) SetShouldFail(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = shouldFail
}

func (m *MockRouterOSServer) GetRequestLog() []MockRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockRequest{}, m.RequestLog...)
}

func (m *MockRouterOSServer) Close() {
	m.Server.Close()
}

func (m *MockRouterOSServer) URL() string {
	return m.Server.URL
}

func writeRouterOSError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// MockUniFiServer emulates the UniFi controller endpoints used for hotspot
// voucher management.
type MockUniFiServer struct {
	Server   *httptest.Server
	Username string
	Password string
	Site     string

	mu       sync.RWMutex
	vouchers map[string]string // _id -> code
	nextID   int
	session  string
	Logins   int
}

func NewMockUniFiServer(username, password, site string) *MockUniFiServer {
	mock := &MockUniFiServer{
		Username: username,
		Password: password,
		Site:     site,
		vouchers: make(map[string]string),
		session:  "mock-session",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", mock.handleLogin)
	mux.HandleFunc(fmt.Sprintf("/api/s/%s/stat/voucher", site), mock.requireSession(mock.handleListVouchers))
	mux.HandleFunc(fmt.Sprintf("/api/s/%s/cmd/hotspot", site), mock.requireSession(mock.handleHotspotCmd))

	mock.Server = httptest.NewServer(mux)
	return mock
}

func (m *MockUniFiServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username != m.Username || body.Password != m.Password {
		writeUniFi(w, http.StatusBadRequest, "error", nil)
		return
	}

	m.mu.Lock()
	m.Logins++
	m.mu.Unlock()

	http.SetCookie(w, &http.Cookie{Name: "unifises", Value: m.session, Path: "/"})
	writeUniFi(w, http.StatusOK, "ok", []interface{}{})
}

func (m *MockUniFiServer) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("unifises")
		if err != nil || cookie.Value != m.session {
			writeUniFi(w, http.StatusUnauthorized, "error", nil)
			return
		}
		next(w, r)
	}
}

func (m *MockUniFiServer) handleListVouchers(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	data := make([]map[string]string, 0, len(m.vouchers))
	for id, code := range m.vouchers {
		data = append(data, map[string]string{"_id": id, "code": code})
	}
	m.mu.RUnlock()

	writeUniFi(w, http.StatusOK, "ok", data)
}

func (m *MockUniFiServer) handleHotspotCmd(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Cmd string `json:"cmd"`
		ID  string `json:"_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Cmd != "delete-voucher" {
		writeUniFi(w, http.StatusBadRequest, "error", nil)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vouchers[body.ID]; !ok {
		writeUniFi(w, http.StatusBadRequest, "error", nil)
		return
	}
	delete(m.vouchers, body.ID)
	writeUniFi(w, http.StatusOK, "ok", []interface{}{})
}

// AddVoucher registers a controller voucher and returns its id.
func (m *MockUniFiServer) AddVoucher(code string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("%024x", m.nextID)
	m.vouchers[id] = code
	return id
}

func (m *MockUniFiServer) HasVoucher(code string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.vouchers {
		if c == code {
			return true
		}
	}
	return false
}

func (m *MockUniFiServer) Close() {
	m.Server.Close()
}

func (m *MockUniFiServer) URL() string {
	return m.Server.URL
}

func writeUniFi(w http.ResponseWriter, code int, rc string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"meta": map[string]string{"rc": rc},
		"data": data,
	})
}

func parseQuery(r *http.Request) map[string]string {
	result := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			result[key] = values[0]
		}
	}
	return result
}
