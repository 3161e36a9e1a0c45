package core

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/sirupsen/logrus"
)

// WireProtocolID is the dedicated libp2p stream protocol this node speaks
// (§6 wire protocol).
const WireProtocolID protocol.ID = "/porwchain/wire/1.0.0"

// MessageType enumerates the wire frame types (§6).
type MessageType string

const (
	MsgHello           MessageType = "HELLO"
	MsgPing            MessageType = "PING"
	MsgPong            MessageType = "PONG"
	MsgGetPeers        MessageType = "GET_PEERS"
	MsgPeers           MessageType = "PEERS"
	MsgNewBlock        MessageType = "NEW_BLOCK"
	MsgGetBlock        MessageType = "GET_BLOCK"
	MsgBlock           MessageType = "BLOCK"
	MsgNewTransaction  MessageType = "NEW_TRANSACTION"
	MsgGetTransaction  MessageType = "GET_TRANSACTION"
	MsgTransaction     MessageType = "TRANSACTION"
	MsgGetChainInfo    MessageType = "GET_CHAIN_INFO"
	MsgChainInfo       MessageType = "CHAIN_INFO"
)

// WireFrame is the newline-delimited JSON envelope every message is framed
// in (§6 wire protocol).
type WireFrame struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	Sender    string          `json:"sender"`
	Receiver  string          `json:"receiver,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// HelloPayload is exchanged during the handshake (§4.9).
type HelloPayload struct {
	Version     string `json:"version"`
	UserAgent   string `json:"user_agent"`
	NetworkID   string `json:"network_id"`
	ChainHeight uint64 `json:"chain_height"`
}

// ChainInfoPayload answers GET_CHAIN_INFO.
type ChainInfoPayload struct {
	Height    uint64 `json:"height"`
	TipHash   string `json:"tip_hash"`
	NetworkID string `json:"network_id"`
}

// Handler processes one decoded frame from peer id and optionally returns
// a reply frame to send back.
type Handler func(from NodeID, frame WireFrame) (*WireFrame, error)

// Protocol drives the per-stream framing, the HELLO handshake, and
// gossip deduplication for the wire protocol (§4.9, §6).
type Protocol struct {
	selfID      string
	version     string
	userAgent   string
	networkID   string
	peers       *PeerTable
	handlers    map[MessageType]Handler
	seenHashes  *lru.Cache[string, struct{}]
}

// NewProtocol builds a protocol dispatcher. seenCacheSize bounds the
// gossip-dedup cache, capping fan-out per §5 "deduplicates by hash to cap
// fan-out" with a bounded LRU rather than an unbounded seen-message map.
func NewProtocol(selfID, version, userAgent, networkID string, peers *PeerTable, seenCacheSize int) (*Protocol, error) {
	cache, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, NewError(KindInternal, "new_protocol", err)
	}
	p := &Protocol{
		selfID:     selfID,
		version:    version,
		userAgent:  userAgent,
		networkID:  networkID,
		peers:      peers,
		handlers:   make(map[MessageType]Handler),
		seenHashes: cache,
	}
	return p, nil
}

// OnMessage registers a handler for a message type.
func (p *Protocol) OnMessage(t MessageType, h Handler) {
	p.handlers[t] = h
}

// MarkSeen records a content hash as seen, returning true if it was already
// known (the caller should not re-relay it).
func (p *Protocol) MarkSeen(contentHash string) bool {
	if _, ok := p.seenHashes.Get(contentHash); ok {
		return true
	}
	p.seenHashes.Add(contentHash, struct{}{})
	return false
}

// NewFrame builds a frame with a fresh correlation id and current timestamp.
func (p *Protocol) NewFrame(t MessageType, receiver string, payload interface{}) (WireFrame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WireFrame{}, NewError(KindMalformedEntity, "new_frame", err)
	}
	return WireFrame{
		ID:        uuid.NewString(),
		Type:      t,
		Sender:    p.selfID,
		Receiver:  receiver,
		Timestamp: time.Now().UTC(),
		Payload:   raw,
	}, nil
}

// HandleStream reads newline-delimited WireFrames from s until it errors or
// closes, dispatching each to its registered handler and writing back any
// reply (§4.9 per-peer receive loop, §5 "one task per peer receive loop").
func (p *Protocol) HandleStream(ctx context.Context, remoteID NodeID, s network.Stream) {
	defer s.Close()
	scanner := bufio.NewScanner(s)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	writer := bufio.NewWriter(s)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var frame WireFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			logrus.WithError(err).WithField("peer", remoteID).Warn("protocol: malformed frame")
			p.peers.PenaltyInvalidPayload(remoteID)
			continue
		}
		handler, ok := p.handlers[frame.Type]
		if !ok {
			continue
		}
		reply, err := handler(remoteID, frame)
		if err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"peer": remoteID, "type": frame.Type}).Warn("protocol: handler error")
			if KindOf(err) != KindNotFound {
				p.peers.PenaltyInvalidPayload(remoteID)
			}
			continue
		}
		if reply == nil {
			continue
		}
		raw, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		if _, err := writer.Write(append(raw, '\n')); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}

// PerformHandshake exchanges HELLO frames over s and validates the peer's
// declared network id, dropping on mismatch or self-connection (§4.9).
func (p *Protocol) PerformHandshake(s network.Stream, remotePeerID string, chainHeight uint64) (*HelloPayload, error) {
	if remotePeerID == p.selfID {
		return nil, NewError(KindPeerMisbehavior, "handshake", fmt.Errorf("refusing self-connection"))
	}
	hello := HelloPayload{Version: p.version, UserAgent: p.userAgent, NetworkID: p.networkID, ChainHeight: chainHeight}
	frame, err := p.NewFrame(MsgHello, remotePeerID, hello)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, NewError(KindMalformedEntity, "handshake", err)
	}
	if _, err := s.Write(append(raw, '\n')); err != nil {
		return nil, NewError(KindTimeout, "handshake", err)
	}

	scanner := bufio.NewScanner(s)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, NewError(KindTimeout, "handshake", err)
		}
		return nil, NewError(KindTimeout, "handshake", fmt.Errorf("stream closed before HELLO reply"))
	}
	var reply WireFrame
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil || reply.Type != MsgHello {
		return nil, NewError(KindPeerMisbehavior, "handshake", fmt.Errorf("expected HELLO reply"))
	}
	var remoteHello HelloPayload
	if err := json.Unmarshal(reply.Payload, &remoteHello); err != nil {
		return nil, NewError(KindMalformedEntity, "handshake", err)
	}
	if remoteHello.NetworkID != p.networkID {
		return nil, NewError(KindPeerMisbehavior, "handshake", fmt.Errorf("network id mismatch: got %q want %q", remoteHello.NetworkID, p.networkID))
	}
	return &remoteHello, nil
}

// ReceiveHandshake is the inbound counterpart to PerformHandshake: it reads
// the initiating peer's HELLO first, then replies with our own, dropping
// the connection on network id mismatch or self-connection (§4.9).
func (p *Protocol) ReceiveHandshake(s network.Stream, remotePeerID string, chainHeight uint64) (*HelloPayload, *bufio.Scanner, error) {
	if remotePeerID == p.selfID {
		return nil, nil, NewError(KindPeerMisbehavior, "handshake", fmt.Errorf("refusing self-connection"))
	}
	scanner := bufio.NewScanner(s)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, nil, NewError(KindTimeout, "handshake", err)
		}
		return nil, nil, NewError(KindTimeout, "handshake", fmt.Errorf("stream closed before HELLO"))
	}
	var incoming WireFrame
	if err := json.Unmarshal(scanner.Bytes(), &incoming); err != nil || incoming.Type != MsgHello {
		return nil, nil, NewError(KindPeerMisbehavior, "handshake", fmt.Errorf("expected HELLO"))
	}
	var remoteHello HelloPayload
	if err := json.Unmarshal(incoming.Payload, &remoteHello); err != nil {
		return nil, nil, NewError(KindMalformedEntity, "handshake", err)
	}
	if remoteHello.NetworkID != p.networkID {
		return nil, nil, NewError(KindPeerMisbehavior, "handshake", fmt.Errorf("network id mismatch: got %q want %q", remoteHello.NetworkID, p.networkID))
	}

	hello := HelloPayload{Version: p.version, UserAgent: p.userAgent, NetworkID: p.networkID, ChainHeight: chainHeight}
	frame, err := p.NewFrame(MsgHello, remotePeerID, hello)
	if err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, nil, NewError(KindMalformedEntity, "handshake", err)
	}
	if _, err := s.Write(append(raw, '\n')); err != nil {
		return nil, nil, NewError(KindTimeout, "handshake", err)
	}
	return &remoteHello, scanner, nil
}

// HandleStreamFrom continues reading frames from an already-scanned stream
// (used after ReceiveHandshake has consumed the HELLO line), dispatching
// each to its registered handler.
func (p *Protocol) HandleStreamFrom(ctx context.Context, remoteID NodeID, s network.Stream, scanner *bufio.Scanner) {
	defer s.Close()
	writer := bufio.NewWriter(s)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		var frame WireFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			p.peers.PenaltyInvalidPayload(remoteID)
			continue
		}
		handler, ok := p.handlers[frame.Type]
		if !ok {
			continue
		}
		reply, err := handler(remoteID, frame)
		if err != nil {
			if KindOf(err) != KindNotFound {
				p.peers.PenaltyInvalidPayload(remoteID)
			}
			continue
		}
		if reply == nil {
			continue
		}
		raw, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		if _, err := writer.Write(append(raw, '\n')); err != nil {
			return
		}
		if err := writer.Flush(); err != nil {
			return
		}
	}
}
