package core

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ChainStoreConfig points a ChainStore at its on-disk layout (§6 Persisted
// state layout: blocks/ directory holding the append-only log).
type ChainStoreConfig struct {
	Dir           string
	ArchiveEvery  uint64 // blocks between gzip archive rotations; 0 disables
	GenesisBlock  *Block
}

// ChainStore is the durable, append-only log of blocks with secondary
// indices by index, hash, type, and transaction id/address (§4.3).
type ChainStore struct {
	mu sync.RWMutex

	dir          string
	walFile      *os.File
	archiveEvery uint64

	byIndex    []*Block
	byHash     map[Hash]*Block
	latestType map[BlockType]*Block
	txByID     map[Hash]*Transaction
	txBlock    map[Hash]Hash
	txByAddr   map[Address][]Hash
}

// NewChainStore opens (or creates) the WAL under cfg.Dir and replays it.
func NewChainStore(cfg ChainStoreConfig) (cs *ChainStore, err error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, NewError(KindStoreIO, "new_chain_store", fmt.Errorf("mkdir blocks dir: %w", err))
	}
	walPath := filepath.Join(cfg.Dir, "blocks.wal")
	wal, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, NewError(KindStoreIO, "new_chain_store", fmt.Errorf("open WAL: %w", err))
	}
	defer func() {
		if err != nil {
			_ = wal.Close()
		}
	}()

	cs = &ChainStore{
		dir:          cfg.Dir,
		walFile:      wal,
		archiveEvery: cfg.ArchiveEvery,
		byHash:       make(map[Hash]*Block),
		latestType:   make(map[BlockType]*Block),
		txByID:       make(map[Hash]*Transaction),
		txBlock:      make(map[Hash]Hash),
		txByAddr:     make(map[Address][]Hash),
	}

	scanner := bufio.NewScanner(wal)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for scanner.Scan() {
		var blk Block
		if err = json.Unmarshal(scanner.Bytes(), &blk); err != nil {
			return nil, NewError(KindStoreIO, "new_chain_store", fmt.Errorf("WAL unmarshal: %w", err))
		}
		cs.index(&blk)
	}
	if err = scanner.Err(); err != nil {
		return nil, NewError(KindStoreIO, "new_chain_store", fmt.Errorf("WAL scan: %w", err))
	}

	if len(cs.byIndex) == 0 && cfg.GenesisBlock != nil {
		if err = cs.appendLocked(cfg.GenesisBlock); err != nil {
			return nil, err
		}
		logrus.WithField("hash", cfg.GenesisBlock.BlockHash.Short()).Info("chain store: loaded genesis block")
	}
	return cs, nil
}

func (cs *ChainStore) index(blk *Block) {
	cs.byIndex = append(cs.byIndex, blk)
	cs.byHash[blk.BlockHash] = blk
	cs.latestType[blk.Header.BlockType] = blk
	if blk.Coinbase != nil {
		cs.txByID[blk.Coinbase.ID] = blk.Coinbase
		cs.txBlock[blk.Coinbase.ID] = blk.BlockHash
	}
	for _, tx := range blk.Transactions {
		cs.txByID[tx.ID] = tx
		cs.txBlock[tx.ID] = blk.BlockHash
		cs.txByAddr[tx.Sender] = append(cs.txByAddr[tx.Sender], tx.ID)
		cs.txByAddr[tx.Recipient] = append(cs.txByAddr[tx.Recipient], tx.ID)
	}
}

// Append validates index/hash uniqueness and durably appends blk (§4.3
// append). Callers must have already run Validator checks; Append only
// enforces store-level invariants.
func (cs *ChainStore) Append(blk *Block) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.appendLocked(blk)
}

func (cs *ChainStore) appendLocked(blk *Block) error {
	if _, exists := cs.byHash[blk.BlockHash]; exists {
		return NewError(KindConflict, "append_block", fmt.Errorf("duplicate block hash %s", blk.BlockHash.Short()))
	}
	wantIndex := uint64(len(cs.byIndex))
	if blk.Header.Index != wantIndex {
		return NewError(KindConflict, "append_block", fmt.Errorf("expected index %d, got %d", wantIndex, blk.Header.Index))
	}
	raw, err := json.Marshal(blk)
	if err != nil {
		return NewError(KindMalformedEntity, "append_block", err)
	}
	if _, err := cs.walFile.Write(append(raw, '\n')); err != nil {
		return NewError(KindStoreIO, "append_block", err)
	}
	if err := cs.walFile.Sync(); err != nil {
		return NewError(KindStoreIO, "append_block", err)
	}
	cs.index(blk)
	if cs.archiveEvery > 0 && blk.Header.Index > 0 && blk.Header.Index%cs.archiveEvery == 0 {
		if err := cs.archiveLocked(); err != nil {
			logrus.WithError(err).Warn("chain store: archive rotation failed")
		}
	}
	return nil
}

// GetByIndex returns the block at the given height.
func (cs *ChainStore) GetByIndex(index uint64) (*Block, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if index >= uint64(len(cs.byIndex)) {
		return nil, NewError(KindNotFound, "get_by_index", fmt.Errorf("index %d", index))
	}
	return cs.byIndex[index], nil
}

// GetByHash looks up a block by its block_hash.
func (cs *ChainStore) GetByHash(h Hash) (*Block, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	blk, ok := cs.byHash[h]
	if !ok {
		return nil, NewError(KindNotFound, "get_by_hash", fmt.Errorf("hash %s", h.Short()))
	}
	return blk, nil
}

// Latest returns the tip block.
func (cs *ChainStore) Latest() (*Block, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if len(cs.byIndex) == 0 {
		return nil, NewError(KindNotFound, "latest", fmt.Errorf("chain is empty"))
	}
	return cs.byIndex[len(cs.byIndex)-1], nil
}

// LatestByType returns the most recent block of the given type, optionally
// before a given index (PoRW reward timing needs "latest PoRW before now").
func (cs *ChainStore) LatestByType(t BlockType, beforeIndex *uint64) (*Block, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if beforeIndex == nil {
		blk, ok := cs.latestType[t]
		if !ok {
			return nil, NewError(KindNotFound, "latest_by_type", fmt.Errorf("no block of type %s", t))
		}
		return blk, nil
	}
	for i := len(cs.byIndex) - 1; i >= 0; i-- {
		blk := cs.byIndex[i]
		if blk.Header.Index < *beforeIndex && blk.Header.BlockType == t {
			return blk, nil
		}
	}
	return nil, NewError(KindNotFound, "latest_by_type", fmt.Errorf("no block of type %s before %d", t, *beforeIndex))
}

// Range returns blocks in [start, end).
func (cs *ChainStore) Range(start, end uint64) ([]*Block, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if start > end || end > uint64(len(cs.byIndex)) {
		return nil, NewError(KindMalformedEntity, "range", fmt.Errorf("invalid range [%d,%d) over %d blocks", start, end, len(cs.byIndex)))
	}
	out := make([]*Block, end-start)
	copy(out, cs.byIndex[start:end])
	return out, nil
}

// GetTx looks up a confirmed transaction by id.
func (cs *ChainStore) GetTx(id Hash) (*Transaction, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	tx, ok := cs.txByID[id]
	if !ok {
		return nil, NewError(KindNotFound, "get_tx", fmt.Errorf("tx %s", id.Short()))
	}
	return tx, nil
}

// TxsForAddress returns confirmed transaction ids touching addr.
func (cs *ChainStore) TxsForAddress(addr Address) []Hash {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]Hash, len(cs.txByAddr[addr]))
	copy(out, cs.txByAddr[addr])
	return out
}

// Height reports the number of blocks currently stored.
func (cs *ChainStore) Height() uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return uint64(len(cs.byIndex))
}

// TruncateAbove drops all blocks with index > keepIndex, for reorgs. It
// rewrites the WAL atomically via a temp file + rename, matching the
// teacher's snapshot-then-replace pattern for crash safety.
func (cs *ChainStore) TruncateAbove(keepIndex uint64) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if keepIndex+1 >= uint64(len(cs.byIndex)) {
		return nil
	}
	kept := make([]*Block, keepIndex+1)
	copy(kept, cs.byIndex[:keepIndex+1])

	tmpPath := filepath.Join(cs.dir, "blocks.wal.tmp")
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return NewError(KindStoreIO, "truncate_above", err)
	}
	w := bufio.NewWriter(tmp)
	for _, blk := range kept {
		raw, err := json.Marshal(blk)
		if err != nil {
			_ = tmp.Close()
			return NewError(KindMalformedEntity, "truncate_above", err)
		}
		if _, err := w.Write(append(raw, '\n')); err != nil {
			_ = tmp.Close()
			return NewError(KindStoreIO, "truncate_above", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return NewError(KindStoreIO, "truncate_above", err)
	}
	if err := tmp.Close(); err != nil {
		return NewError(KindStoreIO, "truncate_above", err)
	}
	if err := cs.walFile.Close(); err != nil {
		return NewError(KindStoreIO, "truncate_above", err)
	}
	walPath := filepath.Join(cs.dir, "blocks.wal")
	if err := os.Rename(tmpPath, walPath); err != nil {
		return NewError(KindStoreIO, "truncate_above", err)
	}
	wal, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return NewError(KindStoreIO, "truncate_above", err)
	}
	cs.walFile = wal

	cs.byIndex = kept
	cs.byHash = make(map[Hash]*Block)
	cs.latestType = make(map[BlockType]*Block)
	cs.txByID = make(map[Hash]*Transaction)
	cs.txBlock = make(map[Hash]Hash)
	cs.txByAddr = make(map[Address][]Hash)
	for _, blk := range kept {
		cs.index(blk)
	}
	return nil
}

// archiveLocked gzips the current WAL contents into the archive directory.
// Caller holds cs.mu.
func (cs *ChainStore) archiveLocked() error {
	archiveDir := filepath.Join(cs.dir, "archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return err
	}
	dst := filepath.Join(archiveDir, fmt.Sprintf("blocks-%d.wal.gz", len(cs.byIndex)))
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	gz := gzip.NewWriter(f)
	defer gz.Close()
	enc := json.NewEncoder(gz)
	for _, blk := range cs.byIndex {
		if err := enc.Encode(blk); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the underlying WAL file.
func (cs *ChainStore) Close() error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.walFile.Close()
}
