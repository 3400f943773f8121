package httpd

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/corecast/corecast/internal/auth"
	"github.com/corecast/corecast/internal/config"
	"github.com/corecast/corecast/internal/core"
	"github.com/corecast/corecast/internal/sourceio"
	"github.com/corecast/corecast/internal/worker"
)

// Server is the main corecast HTTP server: it owns the listener socket(s)
// and dispatches PUT/SOURCE, GET/HEAD, /admin/, and /status requests to
// the appropriate handler. Grounded on the teacher's internal/server
// package, rewired onto core.MountRegistry/worker.Pool.
type Server struct {
	configManager *config.ConfigManager
	registry      *core.MountRegistry
	pool          *worker.Pool
	sourceHandler *sourceio.Handler
	listener      *ListenerHandler
	admin         *AdminHandler
	status        *StatusHandler

	httpServer    *http.Server
	httpsServer   *http.Server
	httpChallenge *http.Server
	autoSSL       *AutoSSLManager
	sslPort       int

	logger    *log.Logger
	startTime time.Time

	mu sync.RWMutex

	sessionTokens map[string]time.Time
	tokenMu       sync.RWMutex

	logBuffer      *LogBuffer
	activityBuffer *ActivityBuffer
}

// New builds a Server wiring every collaborator together: the mount
// registry, the worker pool, the producer-attach handler (sourceio), the
// listener-attach handler, and the admin/status surfaces.
func New(cm *config.ConfigManager, registry *core.MountRegistry, global *core.GlobalSources, pool *worker.Pool, authn *auth.Authenticator, sourceHandler *sourceio.Handler, services *core.Services, logBuffer *LogBuffer, activityBuffer *ActivityBuffer, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}

	cfgFunc := cm.GetConfig

	s := &Server{
		configManager:  cm,
		registry:       registry,
		pool:           pool,
		sourceHandler:  sourceHandler,
		logger:         logger,
		startTime:      time.Now(),
		sessionTokens:  make(map[string]time.Time),
		logBuffer:      logBuffer,
		activityBuffer: activityBuffer,
	}

	s.listener = NewListenerHandler(registry, pool, global, authn, cfgFunc, services, logger)
	s.admin = NewAdminHandler(registry, s.listener)
	s.status = NewStatusHandler(registry)

	// services was handed to the registry before s.listener existed
	// (MountRegistry needs *Services at construction); back-fill the one
	// collaborator that depends on the listener handler now that it's built.
	if services != nil && services.MoveListener == nil {
		services.MoveListener = NewMoveListener(s.listener)
	}

	cm.OnChange(func(newCfg *config.Config) {
		s.logger.Println("configuration updated and propagated")
	})

	activityBuffer.Add(ActivityServerStart, "corecast server started", map[string]interface{}{
		"version": Version,
		"port":    cfgFunc().Server.Port,
	})

	go s.cleanupTokens()

	return s
}

func (s *Server) config() *config.Config {
	return s.configManager.GetConfig()
}

// GetLogWriter returns an io.Writer that mirrors log output into the
// admin-visible log buffer, tagged with the given source name.
func (s *Server) GetLogWriter(source string) *LogWriter {
	if s.logBuffer == nil {
		return nil
	}
	return NewLogWriter(s.logBuffer, LogLevelInfo, source)
}

// GetConfigManager returns the configuration manager backing this server.
func (s *Server) GetConfigManager() *config.ConfigManager {
	return s.configManager
}

func generateToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (s *Server) cleanupTokens() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		s.tokenMu.Lock()
		now := time.Now()
		for token, expires := range s.sessionTokens {
			if now.After(expires) {
				delete(s.sessionTokens, token)
			}
		}
		s.tokenMu.Unlock()
	}
}

// createRouter builds the request router: SOURCE/PUT is the producer
// handshake (spec.md §4.1), GET/HEAD on a mount path is the listener
// handshake (spec.md §4.4), /admin/ is the legacy + REST admin surface,
// /status(-json) is the public mount listing.
func (s *Server) createRouter() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		s.logger.Printf("%s %s %s from %s", r.Method, path, r.Proto, r.RemoteAddr)

		switch {
		case r.Method == http.MethodPut || r.Method == "SOURCE":
			s.sourceHandler.ServeHTTP(w, r)

		case path == "/admin/listmounts" || path == "/admin/moveclients" ||
			path == "/admin/killclient" || path == "/admin/killsource":
			if !s.authenticateAdmin(w, r) {
				return
			}
			s.admin.ServeHTTP(w, r)

		case strings.HasPrefix(path, "/admin/config"):
			if !s.authenticateAdmin(w, r) {
				return
			}
			s.handleAdminConfig(w, r)

		case path == "/status" || path == "/status-json.xsl" || path == "/status.xsl":
			s.status.ServeHTTP(w, r)

		case r.Method == http.MethodGet || r.Method == http.MethodHead:
			s.listener.ServeHTTP(w, r)

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func (s *Server) authenticateAdmin(w http.ResponseWriter, r *http.Request) bool {
	cfg := s.config()
	if !cfg.Admin.Enabled {
		http.Error(w, "Admin interface disabled", http.StatusForbidden)
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != cfg.Admin.User || pass != cfg.Admin.Password {
		w.Header().Set("WWW-Authenticate", `Basic realm="corecast"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// IsHTTPSRunning reports whether the HTTPS listener is currently active.
func (s *Server) IsHTTPSRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.httpsServer != nil
}

// Start starts the HTTP server and, if configured, the HTTPS/AutoSSL
// listener alongside it.
func (s *Server) Start() error {
	mux := s.createRouter()
	cfg := s.config()

	if cfg.SSL.AutoSSL {
		return s.startWithAutoSSL(mux)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.Limits.HeaderTimeout,
		IdleTimeout:       cfg.Limits.ClientTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		s.logger.Printf("starting corecast HTTP server on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("HTTP server error: %v", err)
		}
	}()

	if cfg.SSL.Enabled && !cfg.SSL.AutoSSL {
		if err := s.startHTTPS(mux); err != nil {
			return fmt.Errorf("failed to start HTTPS server: %w", err)
		}
	}

	return nil
}

func (s *Server) startWithAutoSSL(handler http.Handler) error {
	cfg := s.config()
	s.logger.Printf("AutoSSL enabled for %s", cfg.Server.Hostname)

	autoSSL, err := NewAutoSSLManagerWithCloudflare(cfg.Server.Hostname, cfg.SSL.AutoSSLEmail, cfg.SSL.CacheDir, cfg.SSL.CloudflareToken, s.logger)
	if err != nil {
		return fmt.Errorf("failed to create AutoSSL manager: %w", err)
	}
	s.autoSSL = autoSSL

	sslPort := cfg.SSL.Port
	if sslPort == 0 {
		sslPort = 8443
	}
	s.sslPort = sslPort

	if autoSSL.HasValidCertificate() {
		return s.startHTTPSDynamic2(handler, autoSSL.TLSConfig())
	}
	s.logger.Printf("AutoSSL: no certificate yet for %s; obtain one via the admin DNS-01 flow, then HTTPS starts automatically", cfg.Server.Hostname)
	return nil
}

// startHTTPSDynamic starts the HTTPS listener once an AutoSSL certificate
// has just been obtained, without requiring a process restart.
func (s *Server) startHTTPSDynamic() error {
	if s.autoSSL == nil {
		return fmt.Errorf("AutoSSL not configured")
	}
	return s.startHTTPSDynamic2(s.createRouter(), s.autoSSL.TLSConfig())
}

func (s *Server) startHTTPSDynamic2(handler http.Handler, tlsConfig *tls.Config) error {
	cfg := s.config()
	sslPort := s.sslPort
	if sslPort == 0 {
		sslPort = cfg.SSL.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, sslPort)

	s.mu.Lock()
	s.httpsServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: cfg.Limits.HeaderTimeout,
		IdleTimeout:       cfg.Limits.ClientTimeout,
		MaxHeaderBytes:    1 << 20,
	}
	srv := s.httpsServer
	s.mu.Unlock()

	go func() {
		s.logger.Printf("starting corecast HTTPS server on %s (AutoSSL)", addr)
		if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("HTTPS server error: %v", err)
		}
	}()

	return nil
}

func (s *Server) startHTTPS(handler http.Handler) error {
	cfg := s.config()
	cert, err := tls.LoadX509KeyPair(cfg.SSL.CertPath, cfg.SSL.KeyPath)
	if err != nil {
		return fmt.Errorf("failed to load SSL certificates: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.ListenAddress, cfg.SSL.Port)
	s.httpsServer = &http.Server{
		Addr:              addr,
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: cfg.Limits.HeaderTimeout,
		IdleTimeout:       cfg.Limits.ClientTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		s.logger.Printf("starting corecast HTTPS server on %s", addr)
		if err := s.httpsServer.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("HTTPS server error: %v", err)
		}
	}()

	return nil
}

// Stop runs core.Shutdown on every registered source, stops the worker
// pool, then shuts the HTTP, HTTPS and challenge servers down. It does
// not close hijacked producer or listener sockets itself.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Println("shutting down corecast server...")

	if s.activityBuffer != nil {
		s.activityBuffer.Add(ActivityServerStop, "corecast server stopping", nil)
		s.activityBuffer.Stop()
	}

	for _, m := range s.registry.List() {
		if src := s.registry.FindRaw(m); src != nil {
			core.Shutdown(src, false, "", "")
		}
	}
	s.pool.Stop()

	var wg sync.WaitGroup
	shutdownOne := func(srv *http.Server) {
		if srv == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				srv.Close()
			}
		}()
	}
	shutdownOne(s.httpServer)
	shutdownOne(s.httpsServer)
	shutdownOne(s.httpChallenge)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Println("corecast server stopped gracefully")
		return nil
	case <-ctx.Done():
		if s.httpServer != nil {
			s.httpServer.Close()
		}
		if s.httpsServer != nil {
			s.httpsServer.Close()
		}
		return ctx.Err()
	}
}
