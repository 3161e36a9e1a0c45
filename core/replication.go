package core

// Chain sync – block/transaction dissemination and gap-filling (§4.9, §5,
// C9). Blocks and transactions are flooded over gossipsub topics with
// dedup-by-hash fan-out capping; missing ranges are pulled on demand over a
// dedicated request/response stream using the wire protocol's GET_BLOCK and
// GET_CHAIN_INFO frames, an inventory-style block-sync idiom built on this
// project's gossipsub + WireFrame substrate.

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/sirupsen/logrus"
)

const (
	blockTopic         = "porwchain/blocks"
	txTopic            = "porwchain/transactions"
	syncRequestTimeout = 10 * time.Second
)

// GetBlockPayload requests one block by index.
type GetBlockPayload struct {
	Index uint64 `json:"index"`
}

// BlockPayload carries one full block.
type BlockPayload struct {
	Block *Block `json:"block"`
}

// NewBlockPayload announces a freshly minted/validated block on the gossip
// topic; peers missing its predecessors fall back to GET_BLOCK.
type NewBlockPayload struct {
	Block *Block `json:"block"`
}

// NewTransactionPayload announces a mempool-admitted transaction.
type NewTransactionPayload struct {
	Transaction *Transaction `json:"transaction"`
}

// ChainSync wires the chain store and mempool to the node's gossip topics
// and wire-protocol handlers, disseminating new blocks/transactions and
// filling gaps on demand.
type ChainSync struct {
	node      *Node
	chain     *ChainStore
	mempool   *Mempool
	validator *Validator
	onBlock   func(*Block) error
}

// NewChainSync builds a sync driver over an already-constructed node, chain
// store, and mempool. onBlock is invoked for every block accepted via
// gossip or GET_BLOCK fetch, typically the consensus driver's apply-block
// entry point. Every gossiped transaction is run through validator before
// admission to the mempool (§2, §4.6); validator must not be nil.
func NewChainSync(n *Node, chain *ChainStore, mempool *Mempool, validator *Validator, onBlock func(*Block) error) *ChainSync {
	cs := &ChainSync{node: n, chain: chain, mempool: mempool, validator: validator, onBlock: onBlock}
	n.Protocol().OnMessage(MsgGetBlock, cs.handleGetBlock)
	n.Protocol().OnMessage(MsgGetChainInfo, cs.handleGetChainInfo)
	return cs
}

// Start subscribes to the block and transaction gossip topics and begins
// processing inbound announcements until ctx is cancelled.
func (cs *ChainSync) Start(ctx context.Context) error {
	blocks, err := cs.node.Subscribe(blockTopic)
	if err != nil {
		return err
	}
	txs, err := cs.node.Subscribe(txTopic)
	if err != nil {
		return err
	}
	go cs.consumeBlocks(ctx, blocks)
	go cs.consumeTransactions(ctx, txs)
	return nil
}

func (cs *ChainSync) consumeBlocks(ctx context.Context, in <-chan GossipMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var payload NewBlockPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Block == nil {
				cs.node.Peers().PenaltyInvalidPayload(msg.From)
				continue
			}
			cs.acceptBlock(payload.Block, msg.From)
		}
	}
}

func (cs *ChainSync) consumeTransactions(ctx context.Context, in <-chan GossipMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			var payload NewTransactionPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Transaction == nil {
				cs.node.Peers().PenaltyInvalidPayload(msg.From)
				continue
			}
			if err := cs.admitTransaction(payload.Transaction); err != nil && KindOf(err) != KindDuplicate {
				cs.node.Peers().PenaltyInvalidPayload(msg.From)
			}
		}
	}
}

// admitTransaction runs tx through the validator (§4.6 transaction rules,
// reserving against its sender's already-pending mempool transactions)
// before buffering it, the shared gate for both gossiped and locally
// submitted transactions (§2: "Validator (C6) gates them" ahead of
// "Mempool (C5) buffers transactions").
func (cs *ChainSync) admitTransaction(tx *Transaction) error {
	if cs.validator != nil {
		reserved := cs.mempool.Reserved(tx.Sender)
		if err := cs.validator.ValidateTransaction(tx, reserved); err != nil {
			return err
		}
	}
	return cs.mempool.Add(tx)
}

// SubmitTransaction admits a locally originated transaction through the
// same validate-then-buffer path as a gossiped one, then announces it on
// the transaction gossip topic.
func (cs *ChainSync) SubmitTransaction(tx *Transaction) error {
	if err := cs.admitTransaction(tx); err != nil {
		return err
	}
	return cs.AnnounceTransaction(tx)
}

// acceptBlock applies a gossiped block, backfilling any gap by requesting
// missing ancestors from the announcing peer before retrying.
func (cs *ChainSync) acceptBlock(b *Block, from NodeID) {
	tip, err := cs.chain.Latest()
	if err == nil && b.Header.Index <= tip.Header.Index {
		return
	}
	if err == nil && b.Header.Index > tip.Header.Index+1 {
		if ferr := cs.fillGap(from, tip.Header.Index+1, b.Header.Index-1); ferr != nil {
			logrus.WithError(ferr).WithField("peer", from).Warn("chain sync: gap fill failed")
			return
		}
	}
	if cs.onBlock != nil {
		if err := cs.onBlock(b); err != nil {
			logrus.WithError(err).WithField("peer", from).Warn("chain sync: reject gossiped block")
			cs.node.Peers().PenaltyInvalidPayload(from)
			return
		}
	}
	cs.node.Peers().CreditSuccess(from)
}

// fillGap fetches [start,end] from peer via GET_BLOCK RPCs and applies them
// in order before the caller resumes processing the triggering block.
func (cs *ChainSync) fillGap(from NodeID, start, end uint64) error {
	for idx := start; idx <= end; idx++ {
		blk, err := cs.requestBlock(from, idx)
		if err != nil {
			return err
		}
		if cs.onBlock != nil {
			if err := cs.onBlock(blk); err != nil {
				return err
			}
		}
	}
	return nil
}

// requestBlock opens a short-lived stream to peer, sends a GET_BLOCK frame,
// and waits for the correlated BLOCK reply (§4.9 request/response RPC).
func (cs *ChainSync) requestBlock(to NodeID, index uint64) (*Block, error) {
	pid, err := peer.Decode(string(to))
	if err != nil {
		return nil, NewError(KindMalformedEntity, "request_block", err)
	}
	ctx, cancel := context.WithTimeout(cs.node.Context(), syncRequestTimeout)
	defer cancel()
	s, err := cs.node.Host().NewStream(ctx, pid, WireProtocolID)
	if err != nil {
		return nil, NewError(KindUnavailable, "request_block", err)
	}
	defer s.Close()

	frame, err := cs.node.Protocol().NewFrame(MsgGetBlock, string(to), GetBlockPayload{Index: index})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, NewError(KindMalformedEntity, "request_block", err)
	}
	if _, err := s.Write(append(raw, '\n')); err != nil {
		return nil, NewError(KindTimeout, "request_block", err)
	}

	scanner := bufio.NewScanner(s)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	if !scanner.Scan() {
		return nil, NewError(KindTimeout, "request_block", fmt.Errorf("no reply from %s for block %d", to, index))
	}
	var reply WireFrame
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil || reply.Type != MsgBlock {
		return nil, NewError(KindPeerMisbehavior, "request_block", fmt.Errorf("expected BLOCK reply from %s", to))
	}
	var payload BlockPayload
	if err := json.Unmarshal(reply.Payload, &payload); err != nil || payload.Block == nil {
		return nil, NewError(KindMalformedEntity, "request_block", err)
	}
	return payload.Block, nil
}

// handleGetBlock answers a GET_BLOCK frame from the local chain store.
func (cs *ChainSync) handleGetBlock(from NodeID, frame WireFrame) (*WireFrame, error) {
	var req GetBlockPayload
	if err := json.Unmarshal(frame.Payload, &req); err != nil {
		return nil, NewError(KindMalformedEntity, "handle_get_block", err)
	}
	blk, err := cs.chain.GetByIndex(req.Index)
	if err != nil {
		return nil, err
	}
	reply, err := cs.node.Protocol().NewFrame(MsgBlock, string(from), BlockPayload{Block: blk})
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// handleGetChainInfo answers a GET_CHAIN_INFO frame with the local tip.
func (cs *ChainSync) handleGetChainInfo(from NodeID, frame WireFrame) (*WireFrame, error) {
	tip, err := cs.chain.Latest()
	info := ChainInfoPayload{NetworkID: cs.node.cfg.NetworkID}
	if err == nil {
		info.Height = tip.Header.Index
		info.TipHash = tip.BlockHash.Hex()
	}
	reply, err := cs.node.Protocol().NewFrame(MsgChainInfo, string(from), info)
	if err != nil {
		return nil, err
	}
	return &reply, nil
}

// AnnounceBlock floods a newly sealed block to the block topic (§5 "new
// blocks are gossiped to all active peers").
func (cs *ChainSync) AnnounceBlock(b *Block) error {
	raw, err := json.Marshal(NewBlockPayload{Block: b})
	if err != nil {
		return NewError(KindMalformedEntity, "announce_block", err)
	}
	return cs.node.Broadcast(blockTopic, raw)
}

// AnnounceTransaction floods a mempool-admitted transaction to the
// transaction topic.
func (cs *ChainSync) AnnounceTransaction(tx *Transaction) error {
	raw, err := json.Marshal(NewTransactionPayload{Transaction: tx})
	if err != nil {
		return NewError(KindMalformedEntity, "announce_transaction", err)
	}
	return cs.node.Broadcast(txTopic, raw)
}

// RequestChainInfo fetches a peer's advertised height and tip hash, used by
// Synchronize to decide how far catch-up sync must go.
func (cs *ChainSync) RequestChainInfo(to NodeID) (*ChainInfoPayload, error) {
	pid, err := peer.Decode(string(to))
	if err != nil {
		return nil, NewError(KindMalformedEntity, "request_chain_info", err)
	}
	ctx, cancel := context.WithTimeout(cs.node.Context(), syncRequestTimeout)
	defer cancel()
	s, err := cs.node.Host().NewStream(ctx, pid, WireProtocolID)
	if err != nil {
		return nil, NewError(KindUnavailable, "request_chain_info", err)
	}
	defer s.Close()

	frame, err := cs.node.Protocol().NewFrame(MsgGetChainInfo, string(to), struct{}{})
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		return nil, NewError(KindMalformedEntity, "request_chain_info", err)
	}
	if _, err := s.Write(append(raw, '\n')); err != nil {
		return nil, NewError(KindTimeout, "request_chain_info", err)
	}
	scanner := bufio.NewScanner(s)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	if !scanner.Scan() {
		return nil, NewError(KindTimeout, "request_chain_info", fmt.Errorf("no reply from %s", to))
	}
	var reply WireFrame
	if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil || reply.Type != MsgChainInfo {
		return nil, NewError(KindPeerMisbehavior, "request_chain_info", fmt.Errorf("expected CHAIN_INFO reply"))
	}
	var info ChainInfoPayload
	if err := json.Unmarshal(reply.Payload, &info); err != nil {
		return nil, NewError(KindMalformedEntity, "request_chain_info", err)
	}
	return &info, nil
}

// Synchronize pulls blocks from peer starting at the local tip+1 until
// peer's advertised height is reached (§4.9 initial block download).
func (cs *ChainSync) Synchronize(to NodeID) error {
	info, err := cs.RequestChainInfo(to)
	if err != nil {
		return err
	}
	localHeight := uint64(0)
	if tip, err := cs.chain.Latest(); err == nil {
		localHeight = tip.Header.Index
	}
	if info.Height <= localHeight {
		return nil
	}
	return cs.fillGap(to, localHeight+1, info.Height)
}
