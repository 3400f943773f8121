// Package httpd implements the HTTP surface: listener attach, admin
// endpoints, and TLS/AutoSSL. It is grounded on the teacher's
// internal/server package, rewired away from stream.MountManager onto
// core.MountRegistry + worker.Pool.
package httpd

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/corecast/corecast/internal/auth"
	"github.com/corecast/corecast/internal/config"
	"github.com/corecast/corecast/internal/core"
	"github.com/corecast/corecast/internal/stats"
	"github.com/corecast/corecast/internal/worker"
	"github.com/google/uuid"
)

// Version identifies the server in the Server/icy headers.
var Version = "dev"

// botUserAgents are known bots/preview fetchers that should get a plain
// 200 with no stream body rather than tie up a listener slot.
var botUserAgents = []string{
	"WhatsApp", "facebookexternalhit", "Facebot", "Twitterbot", "LinkedInBot",
	"Slackbot", "TelegramBot", "Discordbot", "Googlebot", "bingbot",
	"YandexBot", "DuckDuckBot", "Baiduspider", "curl", "wget",
	"python-requests", "Go-http-client", "Apache-HttpClient", "Java/", "okhttp",
}

func isBotUserAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, bot := range botUserAgents {
		if strings.Contains(ua, strings.ToLower(bot)) {
			return true
		}
	}
	return false
}

// ListenerHandler handles GET/HEAD listener requests: spec.md §4.8
// add_listener plus the CreateClientData handshake (spec.md §4.4).
type ListenerHandler struct {
	registry *core.MountRegistry
	pool     *worker.Pool
	global   *core.GlobalSources
	authn    *auth.Authenticator
	cfg      func() *config.Config
	services *core.Services
	logger   *log.Logger
}

// NewListenerHandler builds a listener-attach handler.
func NewListenerHandler(registry *core.MountRegistry, pool *worker.Pool, global *core.GlobalSources, authn *auth.Authenticator, cfg func() *config.Config, services *core.Services, logger *log.Logger) *ListenerHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &ListenerHandler{registry: registry, pool: pool, global: global, authn: authn, cfg: cfg, services: services, logger: logger}
}

// ServeHTTP implements GET/HEAD mount attach.
func (h *ListenerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mount := r.URL.Path
	cfg := h.cfg()
	mcfg := cfg.GetMountConfig(mount)

	if isBotUserAgent(r.Header.Get("User-Agent")) {
		h.writeCommonHeaders(w, mcfg, -1)
		w.WriteHeader(http.StatusOK)
		return
	}

	user, pass, hasBasic := r.BasicAuth()
	if mcfg.Auth != "" {
		if !hasBasic || !h.authenticateListener(cfg, user, pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="corecast"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	if !allowedByIPList(mcfg, clientIP(r)) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "streaming error", http.StatusInternalServerError)
		return
	}
	if bufrw != nil {
		bufrw.Flush()
	}
	optimizeTCPConnection(conn)

	cl := &core.Client{
		Connection: core.Connection{
			ID:      uuid.NewString(),
			IP:      clientIP(r),
			Conn:    conn,
			ConTime: time.Now(),
		},
		AuthUser: user,
		Flags:    core.FlagActive,
	}
	if burst, ok := burstFromRequest(r); ok {
		cl.RequestedBurst = burst
		cl.HasBurstQuery = true
	}

	lookup := func(m string) (core.AdmissionConfig, bool) {
		c := cfg.GetMountConfig(m)
		_, known := cfg.Mounts[m]
		return core.AdmissionConfig{
			FallbackMount:       c.FallbackMount,
			FallbackWhenFull:    c.FallbackWhenFull,
			MaxListeners:        c.MaxListeners,
			MaxBandwidth:        c.MaxBandwidth,
			MaxListenerDuration: c.MaxListenerDuration,
			LimitRate:           c.LimitRate,
		}, known
	}
	global := core.GlobalAdmission{MaxBandwidth: cfg.Server.MaxBandwidth}

	src, reason := core.AddListener(h.registry, mount, cl, lookup, global, h.services)
	if reason != core.RejectNone {
		h.writeRejectStatus(conn, reason)
		conn.Close()
		return
	}
	if src == nil {
		// Served directly from the static fallback-file module; nothing
		// further for the HTTP layer to drive.
		conn.Close()
		return
	}

	if user != "" {
		h.authn.RegisterListenerLogin(mount, cl.Connection.ID, user)
	}

	stats.Global().IncrementConnections()
	stats.Global().SetCurrentListeners(int64(h.totalListeners()))

	h.pool.Assign(cl, src, worker.RoleListener)
	h.watchListener(conn, src, cl, mount)
}

// totalListeners sums listener counts across every live mount, for the
// global stats snapshot exposed on /status.
func (h *ListenerHandler) totalListeners() int {
	total := 0
	for _, m := range h.registry.List() {
		if src := h.registry.FindRaw(m); src != nil {
			total += src.ListenerCount()
		}
	}
	return total
}

func (h *ListenerHandler) watchListener(conn net.Conn, src *core.Source, cl *core.Client, mount string) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if !src.HasListener(cl.Connection.ID) {
			conn.Close()
			return
		}
	}
}

func (h *ListenerHandler) writeRejectStatus(conn net.Conn, reason core.RejectReason) {
	switch reason {
	case core.RejectNotFound:
		conn.Write([]byte("HTTP/1.0 404 Not Found\r\n\r\n"))
	case core.RejectMountFull:
		conn.Write([]byte("HTTP/1.0 403 Forbidden\r\n\r\nmount full\r\n"))
	case core.RejectBandwidth:
		conn.Write([]byte("HTTP/1.0 502 Bad Gateway\r\n\r\nbandwidth exceeded\r\n"))
	case core.RejectDuplicateLogin:
		conn.Write([]byte("HTTP/1.0 403 Forbidden\r\n\r\nduplicate login\r\n"))
	case core.RejectFallbackTooDeep:
		conn.Write([]byte("HTTP/1.0 500 Internal Server Error\r\n\r\nfallback chain too deep\r\n"))
	default:
		conn.Write([]byte("HTTP/1.0 404 Not Found\r\n\r\n"))
	}
}

func (h *ListenerHandler) writeCommonHeaders(w http.ResponseWriter, mcfg *config.MountConfig, metaInterval int) {
	w.Header().Set("Content-Type", mcfg.Type)
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Server", "corecast/"+Version)
	w.Header().Set("Accept-Ranges", "none")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if mcfg.StreamName != "" {
		w.Header().Set("icy-name", mcfg.StreamName)
	}
	if mcfg.Genre != "" {
		w.Header().Set("icy-genre", mcfg.Genre)
	}
	if mcfg.Bitrate > 0 {
		w.Header().Set("icy-br", strconv.Itoa(mcfg.Bitrate))
	}
	if mcfg.Public {
		w.Header().Set("icy-pub", "1")
	} else {
		w.Header().Set("icy-pub", "0")
	}
	if metaInterval > 0 {
		w.Header().Set("icy-metaint", strconv.Itoa(metaInterval))
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Origin, Accept, X-Requested-With, Content-Type, Icy-MetaData, Range")
	w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	w.Header().Set("Access-Control-Expose-Headers", "Accept-Ranges, Content-Type, icy-br, icy-name, icy-genre, icy-metaint")
}

// authenticateListener checks mount-gated listener credentials. Mounts
// with a non-empty Auth setting require the admin credential pair; the
// duplicate-login policy itself (spec.md §4.8) is enforced later by
// core.AddListener via h.authn.CheckDuplicateLogin.
func (h *ListenerHandler) authenticateListener(cfg *config.Config, user, pass string) bool {
	return user == cfg.Auth.AdminUser && pass == cfg.Auth.AdminPassword
}

func allowedByIPList(mcfg *config.MountConfig, ip string) bool {
	for _, denied := range mcfg.DeniedIPs {
		if denied == ip {
			return false
		}
	}
	if len(mcfg.AllowedIPs) == 0 {
		return true
	}
	for _, allowed := range mcfg.AllowedIPs {
		if allowed == ip {
			return true
		}
	}
	return false
}

func burstFromRequest(r *http.Request) (int, bool) {
	q := r.URL.Query().Get("burst")
	if q == "" {
		return 0, false
	}
	n, err := strconv.Atoi(q)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func optimizeTCPConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// moveListener implements core.MoveListener: it re-runs add_listener
// against the fallback mount and re-assigns the worker, the HTTP-layer
// half of spec.md §4.6 listener_waiting_on_source's hand-off path.
type moveListener struct {
	h *ListenerHandler
}

// NewMoveListener builds the core.MoveListener collaborator backed by h.
func NewMoveListener(h *ListenerHandler) core.MoveListener {
	return &moveListener{h: h}
}

func (m *moveListener) Move(cl *core.Client, fallback core.Fallback) error {
	h := m.h
	cfg := h.cfg()
	lookup := func(mt string) (core.AdmissionConfig, bool) {
		c := cfg.GetMountConfig(mt)
		_, known := cfg.Mounts[mt]
		return core.AdmissionConfig{
			FallbackMount:       c.FallbackMount,
			FallbackWhenFull:    c.FallbackWhenFull,
			MaxListeners:        c.MaxListeners,
			MaxBandwidth:        c.MaxBandwidth,
			MaxListenerDuration: c.MaxListenerDuration,
			LimitRate:           c.LimitRate,
		}, known
	}
	global := core.GlobalAdmission{MaxBandwidth: cfg.Server.MaxBandwidth}

	src, reason := core.AddListener(h.registry, fallback.Mount, cl, lookup, global, h.services)
	if reason != core.RejectNone || src == nil {
		return errNoFallbackTarget
	}
	h.pool.Assign(cl, src, worker.RoleListener)
	return nil
}

var errNoFallbackTarget = &moveError{"no fallback target available"}

type moveError struct{ msg string }

func (e *moveError) Error() string { return e.msg }
