package ionet

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

// Peer is one validator's connection to another.
type Peer struct {
	publicKey ed25519.PublicKey
	address   string
	conn      *quic.Conn
	node      *Node
	closed    atomic.Bool
	mu        sync.Mutex
}

// PublicKey returns the remote node's ed25519 identity key.
func (p *Peer) PublicKey() ed25519.PublicKey { return p.publicKey }

// Address returns the remote dial address, for reconnection.
func (p *Peer) Address() string { return p.address }

// Push sends a fire-and-forget batch of gossiped messages on a new
// unidirectional stream.
func (p *Peer) Push(data []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("peer is closed")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(context.Background())
	if err != nil {
		return fmt.Errorf("open push stream: %w", err)
	}
	if err := writeFrame(stream, data); err != nil {
		stream.Close()
		return fmt.Errorf("write push frame: %w", err)
	}
	return stream.Close()
}

// Pull sends a request and waits for the response on a bidirectional
// stream.
func (p *Peer) Pull(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("peer is closed")
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open pull stream: %w", err)
	}
	defer stream.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, data); err != nil {
		return nil, fmt.Errorf("write pull request: %w", err)
	}
	resp, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("read pull response: %w", err)
	}
	return resp, nil
}

// Close closes the underlying connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.conn.CloseWithError(0, "closed")
}

func (p *Peer) receiveLoop() {
	go p.acceptPullStreams(context.Background())

	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		stream, err := p.conn.AcceptUniStream(ctx)
		cancel()

		if err != nil {
			if ctx.Err() == context.DeadlineExceeded {
				continue
			}
			break
		}
		go p.handlePush(stream)
	}

	p.handleDisconnect()
}

func (p *Peer) acceptPullStreams(ctx context.Context) {
	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go p.handlePull(stream)
	}
}

func (p *Peer) handlePull(stream *quic.Stream) {
	defer stream.Close()

	data, err := readFrame(stream)
	if err != nil {
		return
	}
	resp, err := p.node.handlePullRequest(p, data)
	if err != nil {
		p.node.log.Debug("pull request failed", zap.String("peer", p.address), zap.Error(err))
		return
	}
	writeFrame(stream, resp)
}

func (p *Peer) handlePush(stream *quic.ReceiveStream) {
	data, err := readFrame(stream)
	if err != nil {
		return
	}
	p.node.handlePush(p, data)
}

func (p *Peer) handleDisconnect() {
	if p.closed.Swap(true) {
		return
	}
	p.node.handlePeerDisconnect(p)
}
