// Package format implements core.FormatAdapter for the codecs this server
// accepts from producers: the frame-sync detection tables here are adapted
// from the teacher's stream/broadcast.go (DetectMP3Frame/FindNextMP3Frame/
// ValidateMP3Frame), rewired to hand RefBlocks to the core instead of
// reporting offsets into a ring buffer.
package format

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/corecast/corecast/internal/core"
)

const (
	readChunkSize      = 16 * 1024
	maxUnsyncedBacklog = 256 * 1024
	readPollTimeout    = 5 * time.Millisecond
	writeTimeout       = 2 * time.Second
)

var errNoConnection = errors.New("format: producer connection closed")

// MP3Adapter implements core.FormatAdapter for MPEG-1 Layer I-III and
// MPEG-2/2.5 Layer III streams. One adapter instance per Source.
type MP3Adapter struct {
	mu       sync.Mutex
	leftover []byte
	settings core.MountSettings
}

// NewMP3Adapter builds an adapter seeded with the mount's current
// configuration (icy-name, icy-genre, etc. for the HTTP response header).
func NewMP3Adapter(settings core.MountSettings) *MP3Adapter {
	return &MP3Adapter{settings: settings}
}

// GetBuffer implements core.FormatAdapter. It polls the producer's socket
// with a short read deadline (the zero-timeout poll spec.md's read() calls
// for) and buffers partial reads until a full, sync-aligned MP3 frame is
// available.
func (a *MP3Adapter) GetBuffer(src *core.Source) (*core.RefBlock, error) {
	producer := src.Producer
	if producer == nil || producer.Connection.Conn == nil {
		return nil, errNoConnection
	}
	conn := producer.Connection.Conn

	if err := conn.SetReadDeadline(time.Now().Add(readPollTimeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, readChunkSize)
	n, err := conn.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.leftover = append(a.leftover, buf[:n]...)

	start := findNextFrame(a.leftover)
	if start < 0 {
		if len(a.leftover) > maxUnsyncedBacklog {
			// No sync word found across a large backlog: the stream is
			// garbage or mid-corruption. Keep only the trailing few bytes
			// (a partial sync word could straddle the cut) rather than
			// growing unbounded.
			a.leftover = append([]byte(nil), a.leftover[len(a.leftover)-4:]...)
		}
		return nil, nil
	}

	frameLen := detectFrame(a.leftover[start:])
	if frameLen <= 0 || start+frameLen > len(a.leftover) {
		// Sync word found but the frame is not fully buffered yet; leave
		// leftover as-is and wait for more bytes next tick.
		if start > 0 {
			a.leftover = a.leftover[start:]
		}
		return nil, nil
	}

	frame := make([]byte, frameLen)
	copy(frame, a.leftover[start:start+frameLen])
	a.leftover = append([]byte(nil), a.leftover[start+frameLen:]...)

	return core.NewRefBlock(frame, core.FlagSync), nil
}

// CreateClientData implements core.FormatAdapter: builds the initial ICY/
// HTTP response header block for a newly attached listener.
func (a *MP3Adapter) CreateClientData(cl *core.Client) (*core.RefBlock, error) {
	a.mu.Lock()
	settings := a.settings
	a.mu.Unlock()

	var b strings.Builder
	b.WriteString("HTTP/1.0 200 OK\r\n")
	b.WriteString("Content-Type: " + a.ContentType() + "\r\n")
	if settings.Name != "" {
		b.WriteString("icy-name: " + settings.Name + "\r\n")
	}
	if settings.Genre != "" {
		b.WriteString("icy-genre: " + settings.Genre + "\r\n")
	}
	if settings.URL != "" {
		b.WriteString("icy-url: " + settings.URL + "\r\n")
	}
	if settings.Bitrate > 0 {
		b.WriteString("icy-br: " + strconv.Itoa(settings.Bitrate) + "\r\n")
	}
	b.WriteString("icy-pub: ")
	if settings.Public {
		b.WriteString("1\r\n")
	} else {
		b.WriteString("0\r\n")
	}
	b.WriteString("\r\n")

	return core.NewRefBlock([]byte(b.String()), core.FlagSync), nil
}

// WriteBufToClient implements core.FormatAdapter.
func (a *MP3Adapter) WriteBufToClient(cl *core.Client, refbuf *core.RefBlock, pos int) (int, error) {
	conn := cl.Connection.Conn
	if conn == nil {
		return 0, core.ErrDropClient
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return 0, core.ErrDropClient
	}
	n, err := conn.Write(refbuf.Bytes()[pos:])
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		return n, core.ErrDropClient
	}
	return n, nil
}

// WriteBufToFile implements core.FormatAdapter as a no-op: the core's
// producer tick already writes every appended block straight to
// Source's injected DumpWriter (spec.md §4.2 step 7), so the format
// adapter has nothing further to persist here.
func (a *MP3Adapter) WriteBufToFile(src *core.Source, b *core.RefBlock) error { return nil }

// ApplySettings implements core.FormatAdapter.
func (a *MP3Adapter) ApplySettings(settings core.MountSettings) {
	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()
}

// SwapClient implements core.FormatAdapter. A hijack keeps the same
// Source and the same MP3Adapter, so the buffered leftover bytes already
// belong to the new producer's stream; there is no per-client parser
// state to transfer.
func (a *MP3Adapter) SwapClient(newClient, oldClient *core.Client) error {
	return nil
}

// ContentType implements core.FormatAdapter.
func (a *MP3Adapter) ContentType() string { return "audio/mpeg" }

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
