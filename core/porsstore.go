package core

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// ChunkSize is the default fixed chunk size payloads are split into (§4.8
// storage model).
const ChunkSize = 1 << 20 // 1 MiB

// ChunkID is the content-addressed identifier of a stored chunk, a CIDv1
// over a SHA-256 multihash.
type ChunkID struct {
	cid cid.Cid
}

// String renders the ChunkID in its canonical textual form.
func (c ChunkID) String() string { return c.cid.String() }

// ChunkIDFromBytes derives the content identifier for chunk data.
func ChunkIDFromBytes(data []byte) (ChunkID, error) {
	sum := sha256.Sum256(data)
	mhash, err := mh.Encode(sum[:], mh.SHA2_256)
	if err != nil {
		return ChunkID{}, NewError(KindInternal, "chunk_id_from_bytes", err)
	}
	return ChunkID{cid: cid.NewCidV1(cid.Raw, mhash)}, nil
}

// ParseChunkID recovers a ChunkID from its canonical textual form, the
// inverse of ChunkID.String.
func ParseChunkID(s string) (ChunkID, error) {
	parsed, err := cid.Decode(s)
	if err != nil {
		return ChunkID{}, NewError(KindMalformedEntity, "parse_chunk_id", err)
	}
	return ChunkID{cid: parsed}, nil
}

// SplitChunks splits payload into fixed-size chunks per the §4.8 storage
// model.
func SplitChunks(payload []byte) [][]byte {
	var chunks [][]byte
	for i := 0; i < len(payload); i += ChunkSize {
		end := i + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[i:end])
	}
	return chunks
}

type diskEntry struct {
	id   string
	path string
	elem *list.Element
}

// diskLRU is an on-disk, LRU-evicted chunk cache.
type diskLRU struct {
	mu    sync.Mutex
	dir   string
	max   int
	index map[string]*diskEntry
	order *list.List
}

func newDiskLRU(dir string, maxEntries int) (*diskLRU, error) {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &diskLRU{
		dir:   dir,
		max:   maxEntries,
		index: make(map[string]*diskEntry),
		order: list.New(),
	}, nil
}

func (l *diskLRU) put(id string, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.index[id]; ok {
		l.order.MoveToFront(ent.elem)
		return nil
	}
	path := filepath.Join(l.dir, id)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	ent := &diskEntry{id: id, path: path}
	ent.elem = l.order.PushFront(ent)
	l.index[id] = ent

	if len(l.index) > l.max {
		oldest := l.order.Back()
		if oldest != nil {
			old := oldest.Value.(*diskEntry)
			_ = os.Remove(old.path)
			delete(l.index, old.id)
			l.order.Remove(oldest)
		}
	}
	return nil
}

func (l *diskLRU) get(id string) ([]byte, bool) {
	l.mu.Lock()
	ent, ok := l.index[id]
	if ok {
		l.order.MoveToFront(ent.elem)
	}
	l.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, err := os.ReadFile(ent.path)
	if err != nil {
		return nil, false
	}
	return data, true
}

// ChunkLocation records which peers are believed to hold a replica of a
// chunk, and when that was last confirmed.
type ChunkLocation struct {
	PeerID       string
	LastVerified time.Time
}

// ChunkStore holds chunk bytes locally (via a disk LRU) and tracks known
// remote replica locations for the replication controller (C8).
type ChunkStore struct {
	mu        sync.RWMutex
	cache     *diskLRU
	locations map[string][]ChunkLocation
}

// NewChunkStore opens a chunk store rooted at dir.
func NewChunkStore(dir string, maxEntries int) (*ChunkStore, error) {
	lru, err := newDiskLRU(dir, maxEntries)
	if err != nil {
		return nil, NewError(KindStoreIO, "new_chunk_store", err)
	}
	return &ChunkStore{cache: lru, locations: make(map[string][]ChunkLocation)}, nil
}

// Put stores chunk data locally, keyed by its content hash.
func (cs *ChunkStore) Put(data []byte) (ChunkID, error) {
	id, err := ChunkIDFromBytes(data)
	if err != nil {
		return ChunkID{}, err
	}
	if err := cs.cache.put(id.String(), data); err != nil {
		return ChunkID{}, NewError(KindStoreIO, "put_chunk", err)
	}
	return id, nil
}

// Get retrieves a chunk's bytes by id.
func (cs *ChunkStore) Get(id ChunkID) ([]byte, error) {
	data, ok := cs.cache.get(id.String())
	if !ok {
		return nil, NewError(KindNotFound, "get_chunk", fmt.Errorf("chunk %s not in local store", id))
	}
	return data, nil
}

// RecordLocation notes that peerID is believed to hold a replica of id.
func (cs *ChunkStore) RecordLocation(id ChunkID, peerID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	locs := cs.locations[id.String()]
	for i, l := range locs {
		if l.PeerID == peerID {
			locs[i].LastVerified = time.Now()
			return
		}
	}
	cs.locations[id.String()] = append(locs, ChunkLocation{PeerID: peerID, LastVerified: time.Now()})
}

// ReplicaCount returns the number of distinct known replica locations.
func (cs *ChunkStore) ReplicaCount(id ChunkID) int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.locations[id.String()])
}
