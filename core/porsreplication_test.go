package core

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"
)

func TestReplicationControllerSchedulesBelowMinReplication(t *testing.T) {
	store, err := NewChunkStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("new chunk store: %v", err)
	}
	id, err := store.Put([]byte("chunk data"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	rc := NewReplicationController(store, nil)

	scheduled := rc.CheckAndSchedule(id, []string{"peerA", "peerB"})
	if len(scheduled) != 2 {
		t.Fatalf("expected 2 scheduled tasks, got %d", len(scheduled))
	}

	store.RecordLocation(id, "peerA")
	store.RecordLocation(id, "peerB")
	if got := rc.CheckAndSchedule(id, []string{"peerC"}); len(got) != 0 {
		t.Fatalf("expected no tasks once replica count clears MinReplication, got %d", len(got))
	}
}

func TestReplicationControllerRecordFailureBansAfterThreshold(t *testing.T) {
	store, err := NewChunkStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("new chunk store: %v", err)
	}
	id, err := store.Put([]byte("chunk data"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	peers := NewPeerTable()
	rc := NewReplicationController(store, peers)
	rc.CheckAndSchedule(id, []string{"peerA"})

	for i := 0; i < replicationMaxFailures; i++ {
		if err := rc.RecordFailure(id, "peerA"); err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
	}
	if !peers.IsBanned("peerA") {
		t.Fatalf("expected peerA banned after %d persistent failures", replicationMaxFailures)
	}
}

func TestChunkTransferPushAndExecute(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var hdr [4]byte
		if _, err := conn.Read(hdr[:]); err != nil {
			return
		}
		n := binary.BigEndian.Uint32(hdr[:])
		buf := make([]byte, n)
		total := 0
		for total < int(n) {
			m, err := conn.Read(buf[total:])
			if err != nil {
				return
			}
			total += m
		}
		received <- buf
	}()

	store, err := NewChunkStore(t.TempDir(), 16)
	if err != nil {
		t.Fatalf("new chunk store: %v", err)
	}
	payload := []byte("replicated chunk payload")
	id, err := store.Put(payload)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	dialer := NewDialer(time.Second, time.Second)
	transfer := NewChunkTransfer(dialer, store, 2, time.Second)
	defer transfer.Close()

	rc := NewReplicationController(store, nil)
	rc.AttachTransfer(transfer)
	tasks := rc.CheckAndSchedule(id, []string{"peerA"})
	if len(tasks) != 1 {
		t.Fatalf("expected 1 scheduled task, got %d", len(tasks))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rc.Execute(ctx, tasks[0], ln.Addr().String()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != string(payload) {
			t.Fatalf("server received %q, want %q", got, payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server to receive chunk")
	}

	if store.ReplicaCount(id) != 1 {
		t.Fatalf("expected replica count 1 after successful execute, got %d", store.ReplicaCount(id))
	}
}
