package core

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// MinReplication is the floor below which re-replication is triggered
// (§4.8 replication control).
const MinReplication = 2

// TargetReplicationFactor is the desired replica count per chunk.
const TargetReplicationFactor = 3

// BootstrapReplicationFactor allows a single-node failsafe mode during
// initial bring-up (§4.8: "failsafe single-node mode allows R=1").
const BootstrapReplicationFactor = 1

const (
	replicationBaseBackoff = 5 * time.Second
	replicationMaxBackoff  = 10 * time.Minute
	replicationMaxFailures = 6 // reaching this many failures triggers a ban
)

// ReplicationTask tracks retry state for re-replicating one chunk to one
// candidate peer.
type ReplicationTask struct {
	ChunkID   ChunkID
	PeerID    string
	Attempts  int
	NextRetry time.Time
}

// ReplicationController schedules chunk re-replication when observed
// replica counts fall below MinReplication, retrying with exponential
// backoff and banning peers with persistent failures (§4.8).
type ReplicationController struct {
	mu       sync.Mutex
	store    *ChunkStore
	peers    *PeerTable
	tasks    map[string]*ReplicationTask // keyed by chunkID+peerID
	target   int
	transfer *ChunkTransfer
}

// NewReplicationController wires a controller to the local chunk store and
// the peer table it schedules replication against.
func NewReplicationController(store *ChunkStore, peers *PeerTable) *ReplicationController {
	return &ReplicationController{store: store, peers: peers, tasks: make(map[string]*ReplicationTask), target: TargetReplicationFactor}
}

func taskKey(id ChunkID, peerID string) string {
	return id.String() + "|" + peerID
}

// CheckAndSchedule inspects id's replica count and, if below
// MinReplication, schedules re-replication to up to target-observed
// healthy peers.
func (rc *ReplicationController) CheckAndSchedule(id ChunkID, candidatePeers []string) []*ReplicationTask {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	observed := rc.store.ReplicaCount(id)
	if observed >= MinReplication {
		return nil
	}
	need := rc.target - observed
	var scheduled []*ReplicationTask
	for _, peerID := range candidatePeers {
		if need <= 0 {
			break
		}
		key := taskKey(id, peerID)
		if _, exists := rc.tasks[key]; exists {
			continue
		}
		t := &ReplicationTask{ChunkID: id, PeerID: peerID, NextRetry: time.Now()}
		rc.tasks[key] = t
		scheduled = append(scheduled, t)
		need--
	}
	return scheduled
}

// RecordFailure applies exponential backoff to a task and, once its attempts
// reach replicationMaxFailures, bans the offending peer (§4.8: "persistent
// failures trigger ban of the offending peer").
func (rc *ReplicationController) RecordFailure(id ChunkID, peerID string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	key := taskKey(id, peerID)
	t, ok := rc.tasks[key]
	if !ok {
		return NewError(KindNotFound, "record_replication_failure", fmt.Errorf("no task for chunk %s peer %s", id, peerID))
	}
	t.Attempts++
	backoff := replicationBaseBackoff << uint(t.Attempts)
	if backoff > replicationMaxBackoff || backoff <= 0 {
		backoff = replicationMaxBackoff
	}
	t.NextRetry = time.Now().Add(backoff)
	if t.Attempts >= replicationMaxFailures && rc.peers != nil {
		rc.peers.Ban(peerID, replicationMaxBackoff)
	}
	return nil
}

// RecordSuccess clears a task once the peer confirms it holds the chunk.
func (rc *ReplicationController) RecordSuccess(id ChunkID, peerID string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.tasks, taskKey(id, peerID))
	rc.store.RecordLocation(id, peerID)
}

// PendingTasks returns tasks whose NextRetry has elapsed, ready to retry.
func (rc *ReplicationController) PendingTasks() []*ReplicationTask {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	now := time.Now()
	var out []*ReplicationTask
	for _, t := range rc.tasks {
		if !t.NextRetry.After(now) {
			out = append(out, t)
		}
	}
	return out
}

// ChunkTransfer pushes chunk bytes to remote peers over pooled plain TCP
// connections rather than libp2p streams: bulk chunk payloads don't need
// the gossip/pubsub substrate the rest of the wire protocol rides on.
type ChunkTransfer struct {
	pool  *ChunkConnPool
	store *ChunkStore
}

// NewChunkTransfer builds a transfer helper whose outbound connections are
// dialed through d and pooled, keeping at most maxIdle idle connections per
// address for up to idleTTL.
func NewChunkTransfer(d *Dialer, store *ChunkStore, maxIdle int, idleTTL time.Duration) *ChunkTransfer {
	return &ChunkTransfer{pool: NewChunkConnPool(d, maxIdle, idleTTL), store: store}
}

// Push sends id's bytes to addr (a raw host:port, distinct from the
// peer's libp2p id), length-prefixed as a big-endian uint32 byte count
// followed by the payload.
func (ct *ChunkTransfer) Push(ctx context.Context, id ChunkID, addr string) error {
	data, err := ct.store.Get(id)
	if err != nil {
		return err
	}
	conn, err := ct.pool.Acquire(ctx, addr)
	if err != nil {
		return NewError(KindUnavailable, "push_chunk", err)
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := conn.Write(hdr[:]); err != nil {
		_ = conn.Close()
		return NewError(KindUnavailable, "push_chunk", fmt.Errorf("write header: %w", err))
	}
	if _, err := conn.Write(data); err != nil {
		_ = conn.Close()
		return NewError(KindUnavailable, "push_chunk", fmt.Errorf("write payload: %w", err))
	}
	ct.pool.Release(conn)
	return nil
}

// Close releases all pooled connections.
func (ct *ChunkTransfer) Close() { ct.pool.Close() }

// AttachTransfer wires a transfer helper into the controller so Execute
// can actually move bytes for a scheduled task.
func (rc *ReplicationController) AttachTransfer(ct *ChunkTransfer) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.transfer = ct
}

// Execute runs a scheduled re-replication task: pushes the chunk to addr
// and records success or failure (with its backoff/ban side effects)
// against the task.
func (rc *ReplicationController) Execute(ctx context.Context, t *ReplicationTask, addr string) error {
	rc.mu.Lock()
	ct := rc.transfer
	rc.mu.Unlock()
	if ct == nil {
		return NewError(KindUnavailable, "execute_replication_task", fmt.Errorf("no chunk transfer attached"))
	}
	if err := ct.Push(ctx, t.ChunkID, addr); err != nil {
		_ = rc.RecordFailure(t.ChunkID, t.PeerID)
		return err
	}
	rc.RecordSuccess(t.ChunkID, t.PeerID)
	return nil
}
