package directory

import (
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"github.com/negyio/negy/internal/dirapi"
)

// Server exposes the node pool's HTTP API: POST /add, GET /list, GET /ping.
type Server struct {
	store   *Store
	logger  *slog.Logger
	mu      sync.Mutex
	limiter map[string]*rate.Limiter
}

// NewServer builds a Server backed by store.
func NewServer(store *Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   store,
		logger:  logger,
		limiter: make(map[string]*rate.Limiter),
	}
}

// Handler returns the http.Handler to mount, e.g. via http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/add", s.handleAdd)
	mux.HandleFunc("/list", s.handleList)
	mux.HandleFunc("/ping", s.handlePing)
	return mux
}

// limiterFor returns the per-peer token bucket for ip, creating one on
// first sight. Each peer gets 1 request/second with a burst of 5, enough
// for normal registration retries without opening the /add endpoint to a
// flood of bogus claims that would each trigger an outbound probe dial.
func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiter[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(1), 5)
		s.limiter[ip] = l
	}
	return l
}

// peerAddr resolves the caller's address for rate limiting and, when no
// CloudFront-Viewer-Address header is present, for the /add admission
// probe too: the CDN header if set, otherwise the TCP peer address.
func peerAddr(r *http.Request) string {
	if v := r.Header.Get(dirapi.CloudFrontViewerAddressHeader); v != "" {
		if host, _, err := net.SplitHostPort(v); err == nil {
			return host
		}
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := peerAddr(r)
	if !s.limiterFor(ip).Allow() {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}

	var req dirapi.AddRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if req.Port == 0 || req.PublicKey == "" || req.Version == "" {
		http.Error(w, "missing field", http.StatusBadRequest)
		return
	}

	pubPEM, err := base64.StdEncoding.DecodeString(req.PublicKey)
	if err != nil {
		http.Error(w, "public_key is not valid base64", http.StatusBadRequest)
		return
	}
	if block, _ := pem.Decode(pubPEM); block == nil {
		http.Error(w, "public_key is not valid PEM", http.StatusBadRequest)
		return
	}

	addr := net.JoinHostPort(ip, strconv.Itoa(int(req.Port)))

	result, err := verifyClaim(addr, pubPEM, req.Version)
	if err != nil {
		s.logger.Warn("rejecting add: probe failed", "addr", addr, "error", err)
		http.Error(w, "probe failed", http.StatusBadRequest)
		return
	}

	if err := s.store.Upsert(Entry{
		Addr:      addr,
		PublicKey: pubPEM,
		Version:   result.Version,
	}); err != nil {
		s.logger.Error("add: store failure", "addr", addr, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	s.logger.Info("relay added", "addr", addr, "version", result.Version)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	entries := s.store.List()
	resp := dirapi.ListResponse{Nodes: make([]dirapi.NodeEntry, 0, len(entries))}
	for _, e := range entries {
		resp.Nodes = append(resp.Nodes, dirapi.NodeEntry{
			Addr:      e.Addr,
			PublicKey: base64.StdEncoding.EncodeToString(e.PublicKey),
			Version:   e.Version,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
