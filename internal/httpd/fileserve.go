package httpd

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/corecast/corecast/internal/config"
	"github.com/corecast/corecast/internal/core"
)

// FileServe implements core.FileServe: the "static fallback file module"
// spec.md §4.1/§4.6 calls out as external. When a fallback chain ends
// without a live source, it serves a pre-recorded clip straight from the
// webroot instead of the listener getting nothing.
type FileServe struct {
	cfg func() *config.Config
}

// NewFileServe builds the static-file fallback collaborator.
func NewFileServe(cfg func() *config.Config) *FileServe {
	return &FileServe{cfg: cfg}
}

// Serve writes a file named after the mount (stripped of its leading
// slash, with a ".mp3" default extension when the mount has none) found
// under server.webroot_dir directly to the listener's raw connection,
// then closes it — a one-shot clip, not a stream worth scheduling on the
// worker pool.
func (f *FileServe) Serve(cl *core.Client, mount string, bitrateHint int) error {
	cfg := f.cfg()
	name := mount
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	if filepath.Ext(name) == "" {
		name += ".mp3"
	}

	path := filepath.Join(cfg.Server.WebrootDir, "fallback", name)
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("no fallback file for %s: %w", mount, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	conn := cl.Connection.Conn
	if conn == nil {
		return fmt.Errorf("listener connection already closed")
	}

	fmt.Fprintf(conn, "HTTP/1.0 200 OK\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n", contentType, info.Size())
	_, err = io.Copy(conn, file)
	conn.Close()
	return err
}
