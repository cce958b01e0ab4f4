package ionet

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/blockberries/finalityberry/chain"
	"github.com/blockberries/finalityberry/model"
)

const alpnProtocol = "finalityberry/1"

// Config configures a Node's transport identity and listen address.
type Config struct {
	NodeKey              ed25519.PrivateKey
	ListenAddr           string
	DedupRetention       time.Duration
	MaxResponseBatchSize int
}

// Engine is the subset of chain.Engine the network adapter drives:
// pushing verified survivors into the aggregator, and reading the
// aggregator's view to answer pull requests.
type Engine interface {
	AddMessage(message *model.FinalizationMessage)
	Aggregator() *chain.MultiStepAggregator
}

// Node is the finalization engine's quic-go network adapter. It
// implements the push/pull traffic the spec describes as an external
// collaborator: push forwards gossiped messages to the aggregator after
// deduplicating and rebroadcasting; pull answers a peer's request for
// everything newer than its short-hash filter.
type Node struct {
	nodeKey    ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	listenAddr string
	tlsConfig  *tls.Config
	quicConfig *quic.Config

	listener *quic.Listener
	engine   Engine
	dedup    *RecentHashCache
	log      *zap.Logger

	peers   map[string]*Peer
	peersMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode builds a Node. The returned node is not yet listening; call
// Start.
func NewNode(cfg Config, engine Engine, log *zap.Logger) (*Node, error) {
	if cfg.NodeKey == nil {
		return nil, fmt.Errorf("node key is required")
	}
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("listen address is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	cert, err := selfSignedCert(cfg.NodeKey)
	if err != nil {
		return nil, fmt.Errorf("build node certificate: %w", err)
	}

	ttl := cfg.DedupRetention
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		nodeKey:   cfg.NodeKey,
		publicKey: cfg.NodeKey.Public().(ed25519.PublicKey),
		tlsConfig: &tls.Config{
			Certificates:       []tls.Certificate{cert},
			ClientAuth:         tls.RequireAnyClientCert,
			InsecureSkipVerify: true,
			NextProtos:         []string{alpnProtocol},
		},
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		listenAddr: cfg.ListenAddr,
		engine:     engine,
		dedup:      NewRecentHashCache(ttl),
		log:        log,
		peers:      make(map[string]*Peer),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start begins accepting connections.
func (n *Node) Start() error {
	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()
	return nil
}

// Stop closes the listener and every peer connection.
func (n *Node) Stop() error {
	n.cancel()
	if n.listener != nil {
		n.listener.Close()
	}

	n.peersMu.Lock()
	for _, p := range n.peers {
		p.Close()
	}
	n.peers = make(map[string]*Peer)
	n.peersMu.Unlock()

	n.wg.Wait()
	return nil
}

// Connect dials a peer at addr.
func (n *Node) Connect(addr string) (*Peer, error) {
	conn, err := quic.DialAddr(n.ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	peer, err := n.setupPeer(conn, addr)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}
	return peer, nil
}

// Broadcast gossips a batch of this node's own messages to every
// connected peer, recording them in the dedup cache first so an
// immediate echo back from a peer is dropped.
func (n *Node) Broadcast(proof model.FinalizationProof) error {
	survivors := n.dedup.Filter(proof)
	if len(survivors) == 0 {
		return nil
	}
	return n.pushTo(n.allPeers(), survivors)
}

// RequestUnknown pulls everything peer has for step that isn't already
// covered by knownShortHashes, and feeds accepted survivors into the
// aggregator.
func (n *Node) RequestUnknown(ctx context.Context, peer *Peer, step model.StepIdentifier, knownShortHashes []model.ShortHash) error {
	req := encodePullRequest(PullRequest{Step: step, KnownShortHashes: knownShortHashes})
	respData, err := peer.Pull(ctx, req)
	if err != nil {
		return err
	}
	proof, err := decodePullResponse(respData)
	if err != nil {
		return fmt.Errorf("decode pull response: %w", err)
	}

	proof = n.filterCurrentPoint(proof)
	survivors := n.dedup.Filter(proof)
	for _, m := range survivors {
		n.engine.AddMessage(m)
	}
	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}
		go n.handleIncoming(conn)
	}
}

func (n *Node) handleIncoming(conn *quic.Conn) {
	if _, err := n.setupPeer(conn, conn.RemoteAddr().String()); err != nil {
		conn.CloseWithError(1, "setup failed")
	}
}

func (n *Node) setupPeer(conn *quic.Conn, addr string) (*Peer, error) {
	pub, err := peerIdentity(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("identify peer: %w", err)
	}

	peer := &Peer{publicKey: pub, address: addr, conn: conn, node: n}

	n.peersMu.Lock()
	n.peers[hex.EncodeToString(pub)] = peer
	n.peersMu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.receiveLoop()
	}()
	return peer, nil
}

func (n *Node) handlePeerDisconnect(p *Peer) {
	n.peersMu.Lock()
	delete(n.peers, hex.EncodeToString(p.publicKey))
	n.peersMu.Unlock()
}

func (n *Node) allPeers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	return peers
}

func (n *Node) pushTo(peers []*Peer, proof model.FinalizationProof) error {
	data := encodePushBatch(proof)
	var lastErr error
	for _, p := range peers {
		if err := p.Push(data); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// handlePullRequest answers a peer's pull request using the
// aggregator's current view.
func (n *Node) handlePullRequest(from *Peer, data []byte) ([]byte, error) {
	req, err := decodePullRequest(data)
	if err != nil {
		return nil, err
	}

	known := make(map[model.ShortHash]struct{}, len(req.KnownShortHashes))
	for _, h := range req.KnownShortHashes {
		known[h] = struct{}{}
	}

	view, release := n.engine.Aggregator().View()
	proof := view.UnknownMessages(req.Step, known)
	release()

	n.log.Debug("answered pull request",
		zap.String("peer", from.Address()),
		zap.Stringer("step", req.Step),
		zap.Int("messages", len(proof)),
	)
	return encodePullResponse(proof), nil
}

// handlePush processes a gossiped batch from a peer: drop anything
// targeting a finalization point this node isn't currently accepting,
// deduplicate, aggregate the survivors, then forward them on to every
// other peer.
func (n *Node) handlePush(from *Peer, data []byte) {
	proof, err := decodePushBatch(data)
	if err != nil {
		n.log.Debug("dropping malformed push batch", zap.String("peer", from.Address()), zap.Error(err))
		return
	}

	proof = n.filterCurrentPoint(proof)
	if len(proof) == 0 {
		return
	}

	survivors := n.dedup.Filter(proof)
	if len(survivors) == 0 {
		return
	}

	for _, m := range survivors {
		n.engine.AddMessage(m)
	}

	var relay []*Peer
	for _, p := range n.allPeers() {
		if p != from {
			relay = append(relay, p)
		}
	}
	n.pushTo(relay, survivors)
}

// filterCurrentPoint drops every message whose step targets a
// finalization point other than the one the aggregator is currently
// accepting, before it reaches the dedup cache or gets relayed — stale
// or foreign-point traffic must not be amplified across the network.
func (n *Node) filterCurrentPoint(proof model.FinalizationProof) model.FinalizationProof {
	view, release := n.engine.Aggregator().View()
	currentPoint := view.MinStepIdentifier().Point
	release()

	filtered := make(model.FinalizationProof, 0, len(proof))
	for _, m := range proof {
		if m.StepIdentifier.Point == currentPoint {
			filtered = append(filtered, m)
		}
	}
	return filtered
}
