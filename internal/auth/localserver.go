package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const callbackPort = 8400

// callbackResult carries the outcome of one authorization redirect.
type callbackResult struct {
	Code  string
	State string
	Error string
}

// callbackServer is the local HTTP server receiving the authorization
// redirect during interactive login.
type callbackServer struct {
	server     *http.Server
	port       int
	resultChan chan *callbackResult
	errorChan  chan error
	mu         sync.Mutex
	running    bool
}

func newCallbackServer(port int) *callbackServer {
	return &callbackServer{
		port:       port,
		resultChan: make(chan *callbackResult, 1),
		errorChan:  make(chan error, 1),
	}
}

// Start begins listening for the authorization redirect.
func (s *callbackServer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("callback server is already running")
	}
	if !s.isPortAvailable() {
		return fmt.Errorf("port %d is already in use", s.port)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/callback", s.handleCallback)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errorChan <- fmt.Errorf("callback server failed to start: %w", err)
		}
	}()

	return nil
}

// Wait blocks until a redirect arrives, the server fails, or the context or
// timeout expires, and returns the received authorization code.
func (s *callbackServer) Wait(ctx context.Context, expectedState string, timeout time.Duration) (string, error) {
	select {
	case result := <-s.resultChan:
		if result.Error != "" {
			return "", fmt.Errorf("authorization was denied: %s", result.Error)
		}
		if expectedState != "" && result.State != expectedState {
			return "", fmt.Errorf("authorization state mismatch")
		}
		return result.Code, nil
	case err := <-s.errorChan:
		return "", err
	case <-time.After(timeout):
		return "", fmt.Errorf("timed out waiting for authorization callback")
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Stop shuts the server down.
func (s *callbackServer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		log.Debugf("callback server shutdown: %v", err)
	}
	s.running = false
}

func (s *callbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	result := &callbackResult{
		Code:  query.Get("code"),
		State: query.Get("state"),
		Error: query.Get("error"),
	}
	if desc := query.Get("error_description"); desc != "" && result.Error != "" {
		result.Error = fmt.Sprintf("%s: %s", result.Error, desc)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if result.Error != "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = fmt.Fprintf(w, "<html><body><h1>Authorization failed</h1><p>%s</p></body></html>", result.Error)
	} else {
		_, _ = fmt.Fprint(w, "<html><body><h1>Authorization complete</h1><p>You can close this window and return to the terminal.</p></body></html>")
	}

	select {
	case s.resultChan <- result:
	default:
	}
}

func (s *callbackServer) isPortAvailable() bool {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// stateFromAuthURL extracts the state parameter from an authorization URL so
// the callback can verify the redirect belongs to this attempt.
func stateFromAuthURL(authURL string) string {
	parsed, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("state")
}
