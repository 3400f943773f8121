package core

import "errors"

// ErrDropClient is returned by FormatAdapter methods to signal the caller
// should disconnect the client immediately (spec.md §6 create_client_data
// contract: -1 to drop client).
var ErrDropClient = errors.New("core: format adapter dropped client")

// FormatAdapter is the external collaborator (spec.md §1, §6) that knows
// how to parse a particular codec's frame boundaries. The core never
// inspects stream bytes itself; it only calls through this interface.
type FormatAdapter interface {
	// GetBuffer pulls the next codec-aligned block from the producer
	// socket. It returns (nil, nil) when no data is currently available
	// without error; a non-nil error means the producer connection itself
	// is unrecoverable. Implementations set FlagSync on blocks that begin
	// a valid decode boundary.
	GetBuffer(src *Source) (*RefBlock, error)

	// CreateClientData builds the initial HTTP response into the
	// listener's pending buffer, optionally chaining seeded intro content
	// through RefBlock.next. Returns ErrDropClient to refuse the client.
	CreateClientData(cl *Client) (*RefBlock, error)

	// WriteBufToClient writes as many bytes as the client's socket
	// currently accepts starting at client.pos within refbuf, returning
	// the count written.
	WriteBufToClient(cl *Client, refbuf *RefBlock, pos int) (int, error)

	// WriteBufToFile optionally appends a block to the source's open dump
	// file. No-op implementations are valid.
	WriteBufToFile(src *Source, b *RefBlock) error

	// ApplySettings is invoked when a mount's configuration changes.
	ApplySettings(settings MountSettings)

	// SwapClient is invoked during a hijack to hand the new producer's
	// parser state to the format plugin.
	SwapClient(newClient, oldClient *Client) error

	ContentType() string
}

// MountSettings carries the subset of mount configuration a FormatAdapter
// needs (spec.md §6 CLI/configuration list), passed by value so the
// adapter never retains a pointer into the live config snapshot.
type MountSettings struct {
	Bitrate     int
	Name        string
	Description string
	URL         string
	Genre       string
	Public      bool
}
