package httpd

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/corecast/corecast/internal/core"
	"github.com/corecast/corecast/internal/stats"
)

// AdminHandler serves the /admin/ legacy Icecast-compatible endpoints:
// listmounts, moveclients, killclient, killsource. Grounded on the
// teacher's internal/server/server.go admin handlers, rewired onto
// core.MountRegistry, core.SetFallback and Source.KillListener/
// KillProducer instead of stream.MountManager.
type AdminHandler struct {
	registry *core.MountRegistry
	listener *ListenerHandler
	logger   func(format string, args ...interface{})
}

// NewAdminHandler builds the admin REST surface.
func NewAdminHandler(registry *core.MountRegistry, listener *ListenerHandler) *AdminHandler {
	return &AdminHandler{registry: registry, listener: listener}
}

func (h *AdminHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case strings.HasSuffix(r.URL.Path, "/admin/listmounts"):
		h.listMounts(w, r)
	case strings.HasSuffix(r.URL.Path, "/admin/moveclients"):
		h.moveClients(w, r)
	case strings.HasSuffix(r.URL.Path, "/admin/killclient"):
		h.killClient(w, r)
	case strings.HasSuffix(r.URL.Path, "/admin/killsource"):
		h.killSource(w, r)
	default:
		http.NotFound(w, r)
	}
}

type iceResponse struct {
	XMLName xml.Name `xml:"iceresponse"`
	Message string   `xml:"message"`
	Return  int      `xml:"return"`
}

func (h *AdminHandler) writeIceResponse(w http.ResponseWriter, message string, ok bool) {
	w.Header().Set("Content-Type", "text/xml")
	ret := 0
	if ok {
		ret = 1
	}
	fmt.Fprint(w, `<?xml version="1.0"?>`)
	xml.NewEncoder(w).Encode(iceResponse{Message: message, Return: ret})
}

type mountsXML struct {
	XMLName xml.Name      `xml:"icestats"`
	Sources []mountXMLRow `xml:"source"`
}

type mountXMLRow struct {
	Mount     string `xml:"mount,attr"`
	Listeners int    `xml:"Listeners"`
	Connected bool   `xml:"connected"`
}

// listMounts implements the admin "list all registered mounts" view,
// each with its listener count and whether a producer is connected (spec.md §2 component 4 iteration, the admin-facing counterpart
// of find_with_fallback).
func (h *AdminHandler) listMounts(w http.ResponseWriter, r *http.Request) {
	mounts := h.registry.List()
	out := mountsXML{}
	for _, m := range mounts {
		src := h.registry.FindRaw(m)
		if src == nil {
			continue
		}
		out.Sources = append(out.Sources, mountXMLRow{
			Mount:     m,
			Listeners: src.ListenerCount(),
			Connected: src.Available(),
		})
	}
	w.Header().Set("Content-Type", "text/xml")
	fmt.Fprint(w, `<?xml version="1.0"?>`)
	xml.NewEncoder(w).Encode(out)
}

// moveClients implements spec.md §4.3 set_fallback driven by an admin
// request: core.SetFallback records the destination as the source's
// fallback descriptor (a no-op while the source has no listeners). No
// listener is woken or moved here; listeners follow the descriptor when
// the source later terminates with it still in place.
func (h *AdminHandler) moveClients(w http.ResponseWriter, r *http.Request) {
	srcMount := r.URL.Query().Get("mount")
	dstMount := r.URL.Query().Get("destination")
	if srcMount == "" || dstMount == "" {
		http.Error(w, "Missing mount or destination parameter", http.StatusBadRequest)
		return
	}

	src := h.registry.FindRaw(srcMount)
	if src == nil {
		h.writeIceResponse(w, "source mount not found", false)
		return
	}

	core.SetFallback(src, dstMount)
	h.writeIceResponse(w, "Clients moved", true)
}

// killClient implements the admin killclient endpoint by force-closing
// the listener's socket (core.Source.KillListener); the next scheduled
// tick runs the normal release path.
func (h *AdminHandler) killClient(w http.ResponseWriter, r *http.Request) {
	mount := r.URL.Query().Get("mount")
	id := r.URL.Query().Get("id")
	if mount == "" || id == "" {
		http.Error(w, "Missing mount or id parameter", http.StatusBadRequest)
		return
	}
	src := h.registry.FindRaw(mount)
	if src == nil {
		h.writeIceResponse(w, "source mount not found", false)
		return
	}
	ok := src.KillListener(id)
	h.writeIceResponse(w, "Client killed", ok)
}

// killSource implements the admin killsource endpoint: shuts the
// producer socket down, which drives the same teardown path a normal
// producer disconnect would (spec.md §4.2 step 8).
func (h *AdminHandler) killSource(w http.ResponseWriter, r *http.Request) {
	mount := r.URL.Query().Get("mount")
	if mount == "" {
		http.Error(w, "Missing mount parameter", http.StatusBadRequest)
		return
	}
	src := h.registry.FindRaw(mount)
	if src == nil {
		h.writeIceResponse(w, "source mount not found", false)
		return
	}
	ok := src.KillProducer()
	h.writeIceResponse(w, "Source killed", ok)
}

// StatusHandler serves the public /status(-json) listing: one entry per
// registered mount (with a connected flag), plus server-wide counters,
// enough for a directory/monitoring consumer.
type StatusHandler struct {
	registry *core.MountRegistry
}

func NewStatusHandler(registry *core.MountRegistry) *StatusHandler {
	return &StatusHandler{registry: registry}
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	var sb strings.Builder
	sb.WriteString(`{"mounts":[`)
	for i, m := range h.registry.List() {
		src := h.registry.FindRaw(m)
		if src == nil {
			continue
		}
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf(
			`{"mount":%q,"listeners":%d,"peak":%d,"connected":%v}`,
			m, src.ListenerCount(), src.PeakListeners(), src.Available(),
		))
	}
	sb.WriteString("],")

	g := stats.Global()
	sb.WriteString(fmt.Sprintf(
		`"server":{"uptime_seconds":%d,"total_connections":%d,"total_bytes":%d,"current_listeners":%d,"peak_listeners":%d},`,
		int64(time.Since(g.StartTime).Seconds()), g.GetTotalConnections(), g.GetTotalBytes(),
		g.GetCurrentListeners(), g.GetPeakListeners(),
	))
	sb.WriteString(fmt.Sprintf(`"generated":"%s"}`, time.Now().Format(time.RFC3339)))
	w.Write([]byte(sb.String()))
}
