package core

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// Config configures a Node's listen address, bootstrap peers, and
// discovery parameters.
type Config struct {
	ListenAddr     string
	BootstrapPeers []string
	DiscoveryTag   string
	NetworkID      string
	Version        string
	UserAgent      string
	MinPeers       int
	MaxPeers       int
	GossipCacheSize int
}

// GossipMessage is the decoded form of a pubsub delivery on a topic.
type GossipMessage struct {
	From  NodeID
	Topic string
	Data  []byte
}

// Node is the P2P overlay member: a libp2p host plus gossipsub, bootstrap
// dialing, mDNS discovery, and the wire-protocol stream handler (C9).
type Node struct {
	host   host.Host
	pubsub *pubsub.PubSub
	proto  *Protocol
	peers  *PeerTable

	topicLock sync.RWMutex
	topics    map[string]*pubsub.Topic
	subLock   sync.RWMutex
	subs      map[string]*pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
}

// NewNode creates and bootstraps a P2P node: a libp2p host, a gossipsub
// router, the dedicated wire-protocol stream handler, bootstrap dialing,
// and mDNS discovery (§4.9, §6).
func NewNode(cfg Config, chainHeight uint64) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, NewError(KindUnavailable, "new_node", fmt.Errorf("create host: %w", err))
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, NewError(KindUnavailable, "new_node", fmt.Errorf("create pubsub: %w", err))
	}

	peers := NewPeerTable()
	proto, err := NewProtocol(h.ID().String(), cfg.Version, cfg.UserAgent, cfg.NetworkID, peers, cfg.GossipCacheSize)
	if err != nil {
		h.Close()
		cancel()
		return nil, err
	}

	n := &Node{
		host:   h,
		pubsub: ps,
		proto:  proto,
		peers:  peers,
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
	}

	n.host.SetStreamHandler(WireProtocolID, n.handleIncomingStream)

	if err := n.DialSeed(cfg.BootstrapPeers, chainHeight); err != nil {
		logrus.WithError(err).Warn("network: bootstrap dial warning")
	}

	if _, err := mdns.NewMdnsService(h, cfg.DiscoveryTag, n).Start(); err != nil {
		logrus.WithError(err).Warn("network: mDNS discovery failed to start")
	}

	return n, nil
}

// Protocol exposes the node's wire-protocol dispatcher so callers can
// register handlers (§6 message types).
func (n *Node) Protocol() *Protocol { return n.proto }

// Peers exposes the node's peer table.
func (n *Node) Peers() *PeerTable { return n.peers }

// Host exposes the underlying libp2p host for subsystems that need to open
// their own request/response streams (e.g. chain sync's GET_BLOCK RPCs).
func (n *Node) Host() host.Host { return n.host }

// Context returns the node's lifetime context, cancelled on Close.
func (n *Node) Context() context.Context { return n.ctx }

var _ mdns.Notifee = (*Node)(nil)

// HandlePeerFound implements mdns.Notifee: dial newly discovered peers,
// ignoring self and already-known peers.
func (n *Node) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.ID() {
		return
	}
	id := NodeID(info.ID.String())
	if _, ok := n.peers.Get(id); ok {
		return
	}
	if n.peers.IsBanned(id) {
		return
	}
	if err := n.host.Connect(n.ctx, info); err != nil {
		logrus.WithError(err).Warn("network: mDNS connect failed")
		return
	}
	if _, err := n.peers.Add(id, info.String()); err != nil {
		logrus.WithError(err).Warn("network: peer table rejected mDNS peer")
		return
	}
	n.peers.SetState(id, PeerConnected)
	go n.handshakeOutbound(id)
	logrus.WithField("peer", id).Info("network: connected via mDNS")
}

// DialSeed connects to bootstrap peers supplied out of band (§4.9
// Discovery).
func (n *Node) DialSeed(seeds []string, chainHeight uint64) error {
	var errs []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		id := NodeID(pi.ID.String())
		if n.peers.IsBanned(id) {
			continue
		}
		if err := n.host.Connect(n.ctx, *pi); err != nil {
			errs = append(errs, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
		if _, err := n.peers.Add(id, addr); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		n.peers.SetState(id, PeerConnected)
		go n.handshakeOutbound(id)
	}
	if len(errs) > 0 {
		return fmt.Errorf("dial errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// handshakeOutbound opens a wire-protocol stream to id and runs the HELLO
// exchange, transitioning the peer to ACTIVE on success or dropping it on
// mismatch (§4.9).
func (n *Node) handshakeOutbound(id NodeID) {
	n.peers.SetState(id, PeerHandshaking)
	pid, err := peer.Decode(string(id))
	if err != nil {
		n.peers.PenaltyInvalidPayload(id)
		return
	}
	s, err := n.host.NewStream(n.ctx, pid, WireProtocolID)
	if err != nil {
		n.peers.PenaltyFailedPing(id)
		return
	}
	hello, err := n.proto.PerformHandshake(s, string(id), 0)
	if err != nil {
		logrus.WithError(err).WithField("peer", id).Warn("network: handshake failed")
		n.peers.PenaltyInvalidPayload(id)
		s.Close()
		return
	}
	if p, ok := n.peers.Get(id); ok {
		p.ChainHeight = hello.ChainHeight
	}
	n.peers.SetState(id, PeerActive)
	go n.proto.HandleStream(n.ctx, id, s)
}

// handleIncomingStream is the libp2p stream handler for WireProtocolID:
// each inbound stream gets a dedicated receive loop (§5 "one task per peer
// receive loop").
func (n *Node) handleIncomingStream(s network.Stream) {
	remotePeerID := s.Conn().RemotePeer().String()
	id := NodeID(remotePeerID)
	if n.peers.IsBanned(id) {
		s.Close()
		return
	}
	if _, err := n.peers.Add(id, ""); err != nil {
		s.Close()
		return
	}
	n.peers.SetState(id, PeerHandshaking)

	hello, scanner, err := n.proto.ReceiveHandshake(s, remotePeerID, 0)
	if err != nil {
		logrus.WithError(err).WithField("peer", id).Warn("network: inbound handshake failed")
		n.peers.PenaltyInvalidPayload(id)
		s.Close()
		return
	}
	if p, ok := n.peers.Get(id); ok {
		p.ChainHeight = hello.ChainHeight
	}
	n.peers.SetState(id, PeerActive)
	n.proto.HandleStreamFrom(n.ctx, id, s, scanner)
}

// Broadcast publishes data on a gossipsub topic, joining it lazily.
func (n *Node) Broadcast(topic string, data []byte) error {
	n.topicLock.Lock()
	t, ok := n.topics[topic]
	if !ok {
		var err error
		t, err = n.pubsub.Join(topic)
		if err != nil {
			n.topicLock.Unlock()
			return NewError(KindUnavailable, "broadcast", fmt.Errorf("join topic %s: %w", topic, err))
		}
		n.topics[topic] = t
	}
	n.topicLock.Unlock()
	if err := t.Publish(n.ctx, data); err != nil {
		return NewError(KindUnavailable, "broadcast", fmt.Errorf("publish topic %s: %w", topic, err))
	}
	return nil
}

// Subscribe listens for gossipsub messages on a topic, deduplicating by
// content hash via the protocol's seen-cache to cap fan-out (§4.9 Gossip,
// §5 "copies the message").
func (n *Node) Subscribe(topic string) (<-chan GossipMessage, error) {
	n.subLock.Lock()
	sub, ok := n.subs[topic]
	if !ok {
		var err error
		sub, err = n.pubsub.Subscribe(topic)
		if err != nil {
			n.subLock.Unlock()
			return nil, NewError(KindUnavailable, "subscribe", fmt.Errorf("subscribe topic %s: %w", topic, err))
		}
		n.subs[topic] = sub
	}
	n.subLock.Unlock()

	out := make(chan GossipMessage)
	go func() {
		defer close(out)
		for {
			msg, err := sub.Next(n.ctx)
			if err != nil {
				return
			}
			h := CanonicalHashOrEmpty(msg.Data)
			if n.proto.MarkSeen(h) {
				continue
			}
			select {
			case out <- GossipMessage{From: NodeID(msg.GetFrom().String()), Topic: topic, Data: msg.Data}:
			case <-n.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// CanonicalHashOrEmpty hashes raw bytes for gossip dedup purposes; unlike
// CanonicalHash it operates on already-serialized bytes, not an object to
// be canonicalized.
func CanonicalHashOrEmpty(data []byte) string {
	h := Hash(sha256.Sum256(data))
	return h.Hex()
}

// ActivePeerCount reports the number of ACTIVE peers, for the discovery
// loop's min/max-peer maintenance (§4.9 Discovery).
func (n *Node) ActivePeerCount() int { return n.peers.Count() }

// MaintainPeerCount makes one dial pass over candidates when the active
// peer count is below cfg.MinPeers; it does not repeat on its own.
func (n *Node) MaintainPeerCount(candidates []string, chainHeight uint64) {
	if n.ActivePeerCount() >= n.cfg.MinPeers {
		return
	}
	_ = n.DialSeed(candidates, chainHeight)
}

// ListenAndServe blocks until the node's context is cancelled.
func (n *Node) ListenAndServe() {
	<-n.ctx.Done()
	logrus.Info("network: node shutting down")
}

// Close cancels the node's context and tears down the host (§5 graceful
// shutdown); peer state is not persisted here.
func (n *Node) Close() error {
	n.cancel()
	return n.host.Close()
}

// Dialer manages plain TCP outbound connections, used by non-libp2p
// auxiliary services (e.g. the PoRS storage service's direct chunk
// transfer path).
type Dialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
}

// NewDialer creates a dialer with the given timeout/keepalive settings.
func NewDialer(timeout, keepAlive time.Duration) *Dialer {
	return &Dialer{Timeout: timeout, KeepAlive: keepAlive}
}

// Dial opens a plain TCP connection to addr, applying the dialer's
// connect timeout and TCP keepalive interval.
func (d *Dialer) Dial(ctx context.Context, addr string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: d.KeepAlive}
	return nd.DialContext(ctx, "tcp", addr)
}
