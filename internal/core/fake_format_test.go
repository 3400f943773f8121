package core

import "errors"

var errDummyFormat = errors.New("fake format adapter error")

// fakeFormat is a minimal FormatAdapter stub for exercising Read/tick logic
// without a real codec parser, in the same spirit as the stub collaborators
// the teacher's own tests fake out.
type fakeFormat struct {
	blocks []*RefBlock
	err    error
	writes []int
}

func (f *fakeFormat) GetBuffer(src *Source) (*RefBlock, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.blocks) == 0 {
		return nil, nil
	}
	b := f.blocks[0]
	f.blocks = f.blocks[1:]
	return b, nil
}

func (f *fakeFormat) CreateClientData(cl *Client) (*RefBlock, error) {
	return NewRefBlock([]byte("HTTP/1.0 200 OK\r\n\r\n"), FlagSync), nil
}

func (f *fakeFormat) WriteBufToClient(cl *Client, refbuf *RefBlock, pos int) (int, error) {
	n := refbuf.Len() - pos
	f.writes = append(f.writes, n)
	return n, nil
}

func (f *fakeFormat) WriteBufToFile(src *Source, b *RefBlock) error { return nil }
func (f *fakeFormat) ApplySettings(settings MountSettings)          {}
func (f *fakeFormat) SwapClient(newClient, oldClient *Client) error { return nil }
func (f *fakeFormat) ContentType() string                           { return "audio/mpeg" }
