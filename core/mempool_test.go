package core

import "testing"

func txWithFee(id byte, sender Address, fee, amount Amount) *Transaction {
	return &Transaction{ID: Hash{id}, Sender: sender, Amount: amount, Fee: fee}
}

func TestMempoolAddRejectsDuplicateID(t *testing.T) {
	m := NewMempool(DefaultMempoolConfig())
	tx := txWithFee(1, Address{0x01}, 10, 100)
	if err := m.Add(tx); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add(tx); err == nil {
		t.Fatal("expected duplicate id to be rejected")
	}
}

func TestMempoolAddEvictsLowestFeeWhenFull(t *testing.T) {
	m := NewMempool(MempoolConfig{MaxSize: 2})
	low := txWithFee(1, Address{0x01}, 1, 10)
	mid := txWithFee(2, Address{0x02}, 5, 10)
	high := txWithFee(3, Address{0x03}, 9, 10)
	if err := m.Add(low); err != nil {
		t.Fatalf("add low: %v", err)
	}
	if err := m.Add(mid); err != nil {
		t.Fatalf("add mid: %v", err)
	}
	if err := m.Add(high); err != nil {
		t.Fatalf("add high: %v", err)
	}
	if _, ok := m.Get(low.ID); ok {
		t.Fatal("expected lowest-fee transaction to be evicted")
	}
	if m.Len() != 2 {
		t.Fatalf("expected pool size 2, got %d", m.Len())
	}
}

func TestMempoolAddRejectsBelowEvictionFloor(t *testing.T) {
	m := NewMempool(MempoolConfig{MaxSize: 1})
	existing := txWithFee(1, Address{0x01}, 10, 10)
	if err := m.Add(existing); err != nil {
		t.Fatalf("add: %v", err)
	}
	cheaper := txWithFee(2, Address{0x02}, 5, 10)
	if err := m.Add(cheaper); err == nil {
		t.Fatal("expected a fee too low to evict the incumbent to be rejected")
	}
}

func TestMempoolTopNOrdersDescendingByFee(t *testing.T) {
	m := NewMempool(DefaultMempoolConfig())
	for id, fee := range map[byte]Amount{1: 5, 2: 20, 3: 10} {
		if err := m.Add(txWithFee(id, Address{id}, fee, 1)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	top := m.TopN(2)
	if len(top) != 2 || top[0].Fee != 20 || top[1].Fee != 10 {
		t.Fatalf("expected [20,10], got %+v", top)
	}
}

func TestMempoolByFeeFiltersBelowMinimum(t *testing.T) {
	m := NewMempool(DefaultMempoolConfig())
	for id, fee := range map[byte]Amount{1: 5, 2: 20, 3: 10} {
		if err := m.Add(txWithFee(id, Address{id}, fee, 1)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	out := m.ByFee(10, 0)
	if len(out) != 2 {
		t.Fatalf("expected 2 transactions with fee >= 10, got %d", len(out))
	}
	for _, tx := range out {
		if tx.Fee < 10 {
			t.Fatalf("expected all returned fees >= 10, got %d", tx.Fee)
		}
	}
}

func TestMempoolByFeeRespectsLimit(t *testing.T) {
	m := NewMempool(DefaultMempoolConfig())
	for id, fee := range map[byte]Amount{1: 5, 2: 20, 3: 10} {
		if err := m.Add(txWithFee(id, Address{id}, fee, 1)); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	out := m.ByFee(0, 1)
	if len(out) != 1 || out[0].Fee != 20 {
		t.Fatalf("expected the single highest-fee transaction, got %+v", out)
	}
}

func TestMempoolForAddressFiltersBySender(t *testing.T) {
	m := NewMempool(DefaultMempoolConfig())
	var addrA, addrB Address
	addrA[0], addrB[0] = 1, 2
	if err := m.Add(&Transaction{ID: Hash{1}, Sender: addrA, Amount: 10, Fee: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add(&Transaction{ID: Hash{2}, Sender: addrA, Amount: 20, Fee: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add(&Transaction{ID: Hash{3}, Sender: addrB, Amount: 30, Fee: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	out := m.ForAddress(addrA)
	if len(out) != 2 {
		t.Fatalf("expected 2 transactions from addrA, got %d", len(out))
	}
}

func TestMempoolReservedSumsPendingSpend(t *testing.T) {
	m := NewMempool(DefaultMempoolConfig())
	var addr Address
	addr[0] = 1
	if err := m.Add(&Transaction{ID: Hash{1}, Sender: addr, Amount: 100, Fee: 5}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add(&Transaction{ID: Hash{2}, Sender: addr, Amount: 50, Fee: 2}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := m.Reserved(addr); got != 157 {
		t.Fatalf("expected reserved 157, got %d", got)
	}
}

func TestMempoolRemoveDropsTransaction(t *testing.T) {
	m := NewMempool(DefaultMempoolConfig())
	tx := txWithFee(1, Address{0x01}, 10, 100)
	if err := m.Add(tx); err != nil {
		t.Fatalf("add: %v", err)
	}
	m.Remove(tx.ID)
	if _, ok := m.Get(tx.ID); ok {
		t.Fatal("expected transaction to be removed")
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty pool, got %d", m.Len())
	}
}
