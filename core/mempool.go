package core

import (
	"container/heap"
	"fmt"
	"sync"
)

// MempoolConfig bounds the pool's size.
type MempoolConfig struct {
	MaxSize int
}

// DefaultMempoolConfig returns sane defaults for a standalone node.
func DefaultMempoolConfig() MempoolConfig {
	return MempoolConfig{MaxSize: 5000}
}

// Mempool holds pending transactions ordered by fee, highest first, with
// duplicate suppression by transaction id (§4.5).
type Mempool struct {
	mu     sync.Mutex
	cfg    MempoolConfig
	byID   map[Hash]*Transaction
	order  txHeap
}

// NewMempool constructs an empty mempool.
func NewMempool(cfg MempoolConfig) *Mempool {
	return &Mempool{
		cfg:  cfg,
		byID: make(map[Hash]*Transaction),
	}
}

// Add inserts tx into the pool. Duplicate ids are rejected. If the pool is
// at capacity, the lowest-fee transaction is evicted to make room, unless
// tx's own fee would be the new minimum, in which case tx is rejected.
func (m *Mempool) Add(tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[tx.ID]; exists {
		return NewError(KindDuplicate, "mempool_add", fmt.Errorf("transaction %s already in pool", tx.ID.Short()))
	}
	if len(m.order) >= m.cfg.MaxSize {
		lowest := m.order[0]
		if tx.Fee <= lowest.Fee {
			return NewError(KindInsufficientFunds, "mempool_add", fmt.Errorf("pool full, fee %d too low to evict %d", tx.Fee, lowest.Fee))
		}
		heap.Pop(&m.order)
		delete(m.byID, lowest.ID)
	}
	heap.Push(&m.order, tx)
	m.byID[tx.ID] = tx
	return nil
}

// Remove drops a transaction from the pool, e.g. once it is confirmed in a
// block.
func (m *Mempool) Remove(id Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return
	}
	delete(m.byID, id)
	for i, tx := range m.order {
		if tx.ID == id {
			heap.Remove(&m.order, i)
			break
		}
	}
}

// Get returns the transaction with the given id, if present.
func (m *Mempool) Get(id Hash) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.byID[id]
	return tx, ok
}

// Len returns the number of pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// TopN returns up to n pending transactions ordered by descending fee,
// without removing them, for block assembly.
func (m *Mempool) TopN(n int) []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(txHeap, len(m.order))
	copy(cp, m.order)
	ascending := make([]*Transaction, 0, cp.Len())
	for cp.Len() > 0 {
		ascending = append(ascending, heap.Pop(&cp).(*Transaction))
	}
	if n > len(ascending) {
		n = len(ascending)
	}
	out := make([]*Transaction, n)
	for i := 0; i < n; i++ {
		out[i] = ascending[len(ascending)-1-i]
	}
	return out
}

// ByFee returns up to limit pending transactions with fee >= minFee,
// ordered by descending fee (§4.5 by_fee(min_fee?, limit)).
func (m *Mempool) ByFee(minFee Amount, limit int) []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(txHeap, len(m.order))
	copy(cp, m.order)
	ascending := make([]*Transaction, 0, cp.Len())
	for cp.Len() > 0 {
		ascending = append(ascending, heap.Pop(&cp).(*Transaction))
	}
	out := make([]*Transaction, 0, limit)
	for i := len(ascending) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if ascending[i].Fee < minFee {
			continue
		}
		out = append(out, ascending[i])
	}
	return out
}

// ForAddress returns the pending transactions sent by addr, in no
// particular order (§4.5 for_address(addr)).
func (m *Mempool) ForAddress(addr Address) []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Transaction
	for _, tx := range m.order {
		if tx.Sender == addr {
			out = append(out, tx)
		}
	}
	return out
}

// Reserved sums amount+fee across addr's pending transactions, the prior
// mempool reservations a new transaction from the same sender must clear
// on top of its settled on-chain balance (§4.6 "sender has sufficient
// balance accounting for prior mempool reservations").
func (m *Mempool) Reserved(addr Address) Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total Amount
	for _, tx := range m.order {
		if tx.Sender == addr {
			total += tx.Amount + tx.Fee
		}
	}
	return total
}

// txHeap is a min-heap by Fee so the lowest-fee transaction sits at index 0
// and can be evicted in O(log n); TopN reverses iteration order to present
// highest-fee-first.
type txHeap []*Transaction

func (h txHeap) Len() int            { return len(h) }
func (h txHeap) Less(i, j int) bool  { return h[i].Fee < h[j].Fee }
func (h txHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *txHeap) Push(x interface{}) { *h = append(*h, x.(*Transaction)) }
func (h *txHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
