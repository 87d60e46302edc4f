package relaystub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

const (
	KindRegister   = "register"
	KindDeregister = "deregister"
)

// Options describes how the fake relay should behave.
type Options struct {
	// FailRegistrations causes the first N register requests to return
	// HTTP 500. Subsequent attempts succeed.
	FailRegistrations int

	// FailDeregistrations causes the first N deregister requests to return
	// HTTP 502.
	FailDeregistrations int

	// Delay stalls every request before it is answered. The stall ends early
	// if the client gives up.
	Delay time.Duration
}

// Operation represents a recorded management API call.
type Operation struct {
	Kind      string
	Source    string
	Name      string
	Status    int
	Timestamp time.Time
}

// Relay serves the relay management API from an httptest.Server.
type Relay struct {
	server *httptest.Server
	opts   Options

	mu          sync.Mutex
	streams     map[string]string
	operations  []Operation
	registers   int
	deregisters int
}

// Start spins up a new relay stub using the provided options.
func Start(opts Options) *Relay {
	r := &Relay{opts: opts, streams: make(map[string]string)}
	r.server = httptest.NewServer(http.HandlerFunc(r.handle))
	return r
}

// Close shuts down the underlying HTTP server.
func (r *Relay) Close() {
	if r.server != nil {
		r.server.Close()
	}
}

// BaseURL returns the management API base URL.
func (r *Relay) BaseURL() string {
	return r.server.URL
}

// Operations returns a copy of all recorded operations in the order they occurred.
func (r *Relay) Operations() []Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Operation, len(r.operations))
	copy(out, r.operations)
	return out
}

// Count returns how many operations of the given kind were received.
func (r *Relay) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, op := range r.operations {
		if op.Kind == kind {
			n++
		}
	}
	return n
}

// Streams returns a copy of the currently registered streams keyed by name.
func (r *Relay) Streams() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.streams))
	for name, src := range r.streams {
		out[name] = src
	}
	return out
}

// Seed registers a stream directly, bypassing the HTTP surface.
func (r *Relay) Seed(name, source string) {
	r.mu.Lock()
	r.streams[name] = source
	r.mu.Unlock()
}

func (r *Relay) handle(w http.ResponseWriter, req *http.Request) {
	if r.opts.Delay > 0 {
		select {
		case <-req.Context().Done():
			return
		case <-time.After(r.opts.Delay):
		}
	}
	if req.URL.Path != "/api/streams" {
		http.Error(w, "unexpected request", http.StatusNotFound)
		return
	}
	switch req.Method {
	case http.MethodPut:
		r.handleRegister(w, req)
	case http.MethodDelete:
		r.handleDeregister(w, req)
	case http.MethodGet:
		r.handleList(w)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (r *Relay) handleRegister(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()
	op := Operation{Kind: KindRegister, Source: query.Get("src"), Name: query.Get("name"), Timestamp: time.Now()}

	r.mu.Lock()
	r.registers++
	switch {
	case op.Source == "" || op.Name == "":
		op.Status = http.StatusBadRequest
	case r.registers <= r.opts.FailRegistrations:
		op.Status = http.StatusInternalServerError
	default:
		op.Status = http.StatusOK
		r.streams[op.Name] = op.Source
	}
	r.operations = append(r.operations, op)
	r.mu.Unlock()

	if op.Status != http.StatusOK {
		http.Error(w, "register failed", op.Status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Relay) handleDeregister(w http.ResponseWriter, req *http.Request) {
	op := Operation{Kind: KindDeregister, Name: req.URL.Query().Get("src"), Timestamp: time.Now()}

	r.mu.Lock()
	r.deregisters++
	_, exists := r.streams[op.Name]
	switch {
	case r.deregisters <= r.opts.FailDeregistrations:
		op.Status = http.StatusBadGateway
	case !exists:
		op.Status = http.StatusNotFound
	default:
		op.Status = http.StatusOK
		delete(r.streams, op.Name)
	}
	r.operations = append(r.operations, op)
	r.mu.Unlock()

	if op.Status != http.StatusOK {
		http.Error(w, "deregister failed", op.Status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (r *Relay) handleList(w http.ResponseWriter) {
	streams := r.Streams()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(streams)
}
