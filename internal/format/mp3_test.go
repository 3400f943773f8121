package format

import (
	"strings"
	"testing"

	"github.com/corecast/corecast/internal/core"
)

// mpeg1Layer3Frame128k44100 is a minimal MPEG-1 Layer III, 128kbps,
// 44100Hz, no-padding frame header (417 bytes total) followed by zeroed
// payload bytes.
func mpeg1Layer3Frame128k44100() []byte {
	frame := make([]byte, 417)
	frame[0] = 0xFF
	frame[1] = 0xFB // version=11 (MPEG1), layer=01 (III), no CRC
	frame[2] = 0x90 // bitrate index 9 (128k), sampling index 0 (44100), no padding
	frame[3] = 0x00
	return frame
}

func TestDetectFrameValidMPEG1Layer3(t *testing.T) {
	frame := mpeg1Layer3Frame128k44100()
	got := detectFrame(frame)
	if got != 417 {
		t.Errorf("detectFrame() = %d, want 417", got)
	}
}

func TestDetectFrameRejectsBadSyncWord(t *testing.T) {
	frame := mpeg1Layer3Frame128k44100()
	frame[0] = 0x00
	if got := detectFrame(frame); got != 0 {
		t.Errorf("detectFrame() = %d, want 0 for a corrupt sync word", got)
	}
}

func TestDetectFrameRejectsReservedBitrateIndex(t *testing.T) {
	frame := mpeg1Layer3Frame128k44100()
	frame[2] = 0xF0 // bitrate index 15 is reserved
	if got := detectFrame(frame); got != 0 {
		t.Errorf("detectFrame() = %d, want 0 for reserved bitrate index", got)
	}
}

func TestDetectFrameRejectsReservedSamplingIndex(t *testing.T) {
	frame := mpeg1Layer3Frame128k44100()
	frame[2] = 0x9C // sampling index 3 is reserved
	if got := detectFrame(frame); got != 0 {
		t.Errorf("detectFrame() = %d, want 0 for reserved sampling index", got)
	}
}

func TestDetectFrameTooShort(t *testing.T) {
	if got := detectFrame([]byte{0xFF, 0xFB, 0x90}); got != 0 {
		t.Errorf("detectFrame() = %d, want 0 for a header shorter than 4 bytes", got)
	}
}

func TestFindNextFrameSkipsLeadingGarbage(t *testing.T) {
	garbage := []byte{0x00, 0x01, 0x02, 0xFF, 0x00}
	frame := mpeg1Layer3Frame128k44100()
	data := append(garbage, frame...)

	got := findNextFrame(data)
	if got != len(garbage) {
		t.Errorf("findNextFrame() = %d, want %d", got, len(garbage))
	}
}

func TestFindNextFrameNoneFound(t *testing.T) {
	data := make([]byte, 32)
	if got := findNextFrame(data); got != -1 {
		t.Errorf("findNextFrame() = %d, want -1 on all-zero input", got)
	}
}

func TestValidateFrame(t *testing.T) {
	if !validateFrame(mpeg1Layer3Frame128k44100()) {
		t.Errorf("validateFrame() = false for a well-formed frame")
	}
	if validateFrame([]byte{0x00, 0x00, 0x00, 0x00}) {
		t.Errorf("validateFrame() = true for garbage")
	}
}

func TestMP3AdapterContentType(t *testing.T) {
	a := NewMP3Adapter(core.MountSettings{})
	if got := a.ContentType(); got != "audio/mpeg" {
		t.Errorf("ContentType() = %q, want audio/mpeg", got)
	}
}

func TestMP3AdapterApplySettingsUpdatesState(t *testing.T) {
	a := NewMP3Adapter(core.MountSettings{Name: "initial"})
	a.ApplySettings(core.MountSettings{Name: "updated"})

	block, err := a.CreateClientData(&core.Client{})
	if err != nil {
		t.Fatalf("CreateClientData() error = %v", err)
	}
	if got := string(block.Bytes()); !strings.Contains(got, "icy-name: updated") {
		t.Errorf("CreateClientData() = %q, want it to reflect the updated settings", got)
	}
}

func TestMP3AdapterCreateClientDataOmitsBlankFields(t *testing.T) {
	a := NewMP3Adapter(core.MountSettings{})
	block, err := a.CreateClientData(&core.Client{})
	if err != nil {
		t.Fatalf("CreateClientData() error = %v", err)
	}
	got := string(block.Bytes())
	if strings.Contains(got, "icy-name:") {
		t.Errorf("CreateClientData() included icy-name with an empty Name setting")
	}
	if !strings.Contains(got, "HTTP/1.0 200 OK") {
		t.Errorf("CreateClientData() missing status line: %q", got)
	}
	if !strings.Contains(got, "icy-pub: 0") {
		t.Errorf("CreateClientData() missing icy-pub default: %q", got)
	}
}

func TestMP3AdapterGetBufferNoProducerConnection(t *testing.T) {
	a := NewMP3Adapter(core.MountSettings{})
	src := core.NewSource("/live.mp3")
	src.Producer = &core.Client{}

	_, err := a.GetBuffer(src)
	if err != errNoConnection {
		t.Errorf("GetBuffer() error = %v, want errNoConnection", err)
	}
}

func TestMP3AdapterWriteBufToFileIsNoop(t *testing.T) {
	a := NewMP3Adapter(core.MountSettings{})
	if err := a.WriteBufToFile(nil, nil); err != nil {
		t.Errorf("WriteBufToFile() error = %v, want nil", err)
	}
}
