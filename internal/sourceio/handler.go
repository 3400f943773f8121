// Package sourceio handles producer (source) HTTP connections: the PUT/
// SOURCE handshake and hijack-to-raw-socket handoff that spec.md §4.9
// names startup(client, uri). Every producer gets the MP3 format adapter;
// no codec detection is done. It is grounded on the
// teacher's internal/source/handler.go hijack dance, rewired to route
// through core.Startup/core.Init instead of writing straight into a
// stream.Mount.
package sourceio

import (
	"encoding/base64"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/corecast/corecast/internal/config"
	"github.com/corecast/corecast/internal/core"
	"github.com/corecast/corecast/internal/format"
	"github.com/corecast/corecast/internal/stats"
	"github.com/corecast/corecast/internal/worker"
	"github.com/google/uuid"
)

const (
	sourceTCPBufferSize = 65536
)

// Handler handles incoming producer connections. Producer credentials
// are checked by authenticateSource against the mount and global
// passwords in the current config; the core reaches auth session
// bookkeeping through h.services.Auth.
type Handler struct {
	registry *core.MountRegistry
	pool     *worker.Pool
	global   *core.GlobalSources
	cfg      func() *config.Config
	services *core.Services
	logger   *log.Logger
}

// NewHandler builds a producer-attach handler. cfg returns the live
// config snapshot (reference-counted the way spec.md §9 describes
// config_get_config: read once per request, never retained).
func NewHandler(registry *core.MountRegistry, pool *worker.Pool, global *core.GlobalSources, cfg func() *config.Config, services *core.Services, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{registry: registry, pool: pool, global: global, cfg: cfg, services: services, logger: logger}
}

// ServeHTTP implements the PUT/SOURCE producer handshake.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mount := r.URL.Path
	if mount == "" {
		mount = "/"
	}

	if !h.authenticateSource(r, mount) {
		w.Header().Set("WWW-Authenticate", `Basic realm="corecast Source"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
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

	cfg := h.cfg()
	mcfg := cfg.GetMountConfig(mount)

	cl := &core.Client{
		Connection: core.Connection{
			ID:      uuid.NewString(),
			IP:      clientIP(r),
			Conn:    conn,
			ConTime: time.Now(),
		},
	}
	if r.Header.Get("X-Hijacker") == "1" || isHijackRequest(r) {
		cl.SetFlag(core.FlagHijacker)
	}

	audioInfoHeader := r.Header.Get("ice-audio-info")
	settings := core.MountSettings{
		Bitrate:     mcfg.Bitrate,
		Name:        mcfg.StreamName,
		Description: mcfg.Description,
		URL:         mcfg.URL,
		Genre:       mcfg.Genre,
		Public:      mcfg.Public,
	}
	if v := r.Header.Get("ice-name"); v != "" {
		settings.Name = v
	}
	if v := r.Header.Get("ice-bitrate"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Bitrate = n
		}
	}

	connect := func(cl *core.Client) (core.FormatAdapter, *core.SourceQueue, error) {
		queue := core.NewSourceQueue(mcfg.MinQueueSize, mcfg.BurstSize, mcfg.QueueSizeLimit)
		return format.NewMP3Adapter(settings), queue, nil
	}

	res := core.Startup(h.registry, mount, cl, h.global, connect, false)
	if res.Err != nil {
		h.writeStatusLine(conn, res)
		conn.Close()
		return
	}

	if _, err := conn.Write([]byte("HTTP/1.0 200 OK\r\n\r\n")); err != nil {
		conn.Close()
		return
	}

	src := res.Source
	if !res.Hijack {
		core.Init(src, cl, core.InitOptions{
			AudioInfoHeader:  audioInfoHeader,
			FallbackOverride: mcfg.FallbackOverride,
			FallbackMount:    mcfg.FallbackMount,
			WaitTime:         mcfg.WaitTime,
			TimeoutSeconds:   int(mcfg.SourceTimeout / time.Second),
			LimitRate:        mcfg.LimitRate,
			Settings:         settings,
		})
	}

	h.pool.Assign(cl, src, worker.RoleProducer)

	if !res.Hijack {
		stats.Global().IncrementSources()
	}
	stats.Global().IncrementConnections()

	if !res.Hijack && mcfg.OnConnect != "" && h.services != nil && h.services.Scripts != nil {
		h.services.Scripts.OnConnect(mount, mcfg.OnConnect)
	}

	h.logger.Printf("source connected: %s from %s (hijack=%v)", mount, cl.Connection.IP, res.Hijack)

	// The worker pool now owns cl's ticks; this goroutine's only remaining
	// job is to close the raw socket once the core has dropped cl as the
	// producer (spec.md §1: socket I/O lifetime belongs to the HTTP
	// layer, not the core).
	h.watchProducer(conn, src, cl, mount)
}

func (h *Handler) watchProducer(conn net.Conn, src *core.Source, cl *core.Client, mount string) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if !src.IsProducer(cl) {
			conn.Close()
			h.logger.Printf("source disconnected: %s", mount)
			return
		}
	}
}

func (h *Handler) writeStatusLine(conn net.Conn, res core.StartupResult) {
	switch res.Reject {
	case core.RejectMountFull:
		conn.Write([]byte("HTTP/1.0 403 Forbidden\r\n\r\ntoo many streams connected\r\n"))
	case core.RejectNotFound:
		conn.Write([]byte("HTTP/1.0 403 Forbidden\r\n\r\nMountpoint in use\r\n"))
	default:
		conn.Write([]byte("HTTP/1.0 403 Forbidden\r\n\r\n" + res.Err.Error() + "\r\n"))
	}
}

func isHijackRequest(r *http.Request) bool {
	return r.Header.Get("ice-hijack") == "1"
}

func (h *Handler) authenticateSource(r *http.Request, mount string) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		username = r.Header.Get("ice-username")
		password = r.Header.Get("ice-password")
		if password == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Basic ") {
				if decoded, err := base64.StdEncoding.DecodeString(auth[6:]); err == nil {
					parts := strings.SplitN(string(decoded), ":", 2)
					if len(parts) == 2 {
						username, password = parts[0], parts[1]
					}
				}
			}
		}
	}

	cfg := h.cfg()
	if mcfg, exists := cfg.Mounts[mount]; exists && mcfg.Password != "" {
		if password == mcfg.Password {
			return true
		}
	}
	if username != "" && username != "source" {
		return username == cfg.Auth.AdminUser && password == cfg.Auth.AdminPassword
	}
	return password == cfg.Auth.SourcePassword
}

func optimizeTCPConnection(conn net.Conn) {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(30 * time.Second)
		tcpConn.SetReadBuffer(sourceTCPBufferSize)
		tcpConn.SetWriteBuffer(sourceTCPBufferSize)
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
