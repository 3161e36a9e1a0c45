package core

import (
	"fmt"
	"sync"
	"time"
)

// NodeID identifies a peer by its libp2p peer id string.
type NodeID string

// PeerState is a position in the per-peer connection lifecycle (§4.9).
type PeerState string

const (
	PeerDisconnected  PeerState = "DISCONNECTED"
	PeerConnecting    PeerState = "CONNECTING"
	PeerConnected     PeerState = "CONNECTED"
	PeerHandshaking   PeerState = "HANDSHAKING"
	PeerActive        PeerState = "ACTIVE"
	PeerDisconnecting PeerState = "DISCONNECTING"
	PeerBanned        PeerState = "BANNED"
)

// reputation tuning (§4.9 Reputation).
const (
	initialReputation  = 50
	maxReputation      = 100
	minReputation      = 0
	banThreshold       = 20
	banBaseDuration    = time.Hour
	banMaxDuration     = 24 * time.Hour
	penaltyInvalidData = 15
	penaltyFailedPing  = 5
	penaltyChurn       = 5
	penaltyTimeout     = 10
	creditSuccess      = 2
)

// Peer tracks one connection's lifecycle state, reputation, and address.
type Peer struct {
	ID           NodeID
	Addr         string
	State        PeerState
	Reputation   int
	Latency      time.Duration
	ChainHeight  uint64
	BanCount     int
	BannedUntil  time.Time
	connectedAt  time.Time
}

func newPeer(id NodeID, addr string) *Peer {
	return &Peer{ID: id, Addr: addr, State: PeerConnecting, Reputation: initialReputation}
}

// PeerTable is the node's view of its peers, single-threaded per peer but
// accessed concurrently across peers through this shared, mutex-guarded
// table (§5 concurrency model).
type PeerTable struct {
	mu    sync.RWMutex
	peers map[NodeID]*Peer
}

// NewPeerTable builds an empty peer table.
func NewPeerTable() *PeerTable {
	return &PeerTable{peers: make(map[NodeID]*Peer)}
}

// Add registers a newly connecting peer, refusing it outright if it is
// currently banned.
func (pt *PeerTable) Add(id NodeID, addr string) (*Peer, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if existing, ok := pt.peers[id]; ok {
		if existing.State == PeerBanned && time.Now().Before(existing.BannedUntil) {
			return nil, NewError(KindPeerMisbehavior, "add_peer", fmt.Errorf("peer %s is banned until %s", id, existing.BannedUntil))
		}
		return existing, nil
	}
	p := newPeer(id, addr)
	pt.peers[id] = p
	return p, nil
}

// Get returns the peer record for id, if known.
func (pt *PeerTable) Get(id NodeID) (*Peer, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	p, ok := pt.peers[id]
	return p, ok
}

// SetState transitions a peer's lifecycle state.
func (pt *PeerTable) SetState(id NodeID, state PeerState) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if p, ok := pt.peers[id]; ok {
		p.State = state
		if state == PeerConnected {
			p.connectedAt = time.Now()
		}
	}
}

// ActivePeers returns all peers currently in the ACTIVE state.
func (pt *PeerTable) ActivePeers() []*Peer {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make([]*Peer, 0, len(pt.peers))
	for _, p := range pt.peers {
		if p.State == PeerActive {
			out = append(out, p)
		}
	}
	return out
}

// Count returns the number of peers currently ACTIVE.
func (pt *PeerTable) Count() int {
	return len(pt.ActivePeers())
}

func (pt *PeerTable) applyPenalty(id NodeID, amount int) {
	p, ok := pt.peers[id]
	if !ok {
		return
	}
	p.Reputation -= amount
	if p.Reputation < minReputation {
		p.Reputation = minReputation
	}
	if p.Reputation < banThreshold {
		p.BanCount++
		dur := banBaseDuration << uint(p.BanCount-1)
		if dur > banMaxDuration || dur <= 0 {
			dur = banMaxDuration
		}
		p.State = PeerBanned
		p.BannedUntil = time.Now().Add(dur)
	}
}

// PenaltyInvalidPayload records an invalid block/transaction from id
// (§4.9 Reputation: "penalties for invalid payloads").
func (pt *PeerTable) PenaltyInvalidPayload(id NodeID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.applyPenalty(id, penaltyInvalidData)
}

// PenaltyFailedPing records a missed PING/PONG round trip.
func (pt *PeerTable) PenaltyFailedPing(id NodeID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.applyPenalty(id, penaltyFailedPing)
}

// PenaltyTimeout records a protocol timeout on a correlated request.
func (pt *PeerTable) PenaltyTimeout(id NodeID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.applyPenalty(id, penaltyTimeout)
}

// PenaltyChurn records rapid connect/disconnect churn.
func (pt *PeerTable) PenaltyChurn(id NodeID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.applyPenalty(id, penaltyChurn)
}

// CreditSuccess rewards a successful interaction, capped at maxReputation.
func (pt *PeerTable) CreditSuccess(id NodeID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p, ok := pt.peers[id]
	if !ok {
		return
	}
	p.Reputation += creditSuccess
	if p.Reputation > maxReputation {
		p.Reputation = maxReputation
	}
}

// Ban is the generic string-keyed ban entry point used outside the peer
// table's own NodeID-keyed bookkeeping, e.g. by the storage-replication
// controller banning a misbehaving storage peer by its libp2p id string.
func (pt *PeerTable) Ban(peerID string, duration time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	id := NodeID(peerID)
	p, ok := pt.peers[id]
	if !ok {
		p = newPeer(id, "")
		pt.peers[id] = p
	}
	p.State = PeerBanned
	p.BanCount++
	p.BannedUntil = time.Now().Add(duration)
}

// IsBanned reports whether id is currently within its ban window.
func (pt *PeerTable) IsBanned(id NodeID) bool {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	p, ok := pt.peers[id]
	if !ok {
		return false
	}
	return p.State == PeerBanned && time.Now().Before(p.BannedUntil)
}

// Remove drops a peer entirely, e.g. on graceful disconnect of a
// never-misbehaving peer.
func (pt *PeerTable) Remove(id NodeID) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	delete(pt.peers, id)
}

// Persist serializes the peer table for the peers.json persisted-state
// file (§6 Persisted state layout).
func (pt *PeerTable) Persist() ([]byte, error) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return canonicalJSON(pt.peers)
}
