package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// pooledChunkConn is a TCP connection to a peer's chunk-transfer listener,
// tagged with when it was last handed back to the pool so the reaper can
// age it out.
type pooledChunkConn struct {
	net.Conn
	peerAddr string
	lastUsed time.Time
}

// ChunkConnPool keeps a small number of idle chunk-transfer connections per
// peer address alive so repeated ChunkTransfer.Push calls to the same
// replication target don't pay a fresh TCP handshake every time.
type ChunkConnPool struct {
	dialer    *Dialer
	mu        sync.Mutex
	idle      map[string][]*pooledChunkConn
	maxIdle   int
	idleTTL   time.Duration
	closing   chan struct{}
	closeOnce sync.Once
}

// NewChunkConnPool builds a pool that dials through d. maxIdle bounds how
// many idle connections are kept per peer address; idleTTL is how long an
// idle connection survives before the background reaper closes it.
func NewChunkConnPool(d *Dialer, maxIdle int, idleTTL time.Duration) *ChunkConnPool {
	p := &ChunkConnPool{
		dialer:  d,
		idle:    make(map[string][]*pooledChunkConn),
		maxIdle: maxIdle,
		idleTTL: idleTTL,
		closing: make(chan struct{}),
	}
	go p.reap()
	return p
}

// Acquire returns an idle connection to peerAddr if one is pooled, or dials
// a new one.
func (p *ChunkConnPool) Acquire(ctx context.Context, peerAddr string) (net.Conn, error) {
	p.mu.Lock()
	list := p.idle[peerAddr]
	n := len(list)
	if n > 0 {
		c := list[n-1]
		p.idle[peerAddr] = list[:n-1]
		p.mu.Unlock()
		c.lastUsed = time.Now()
		return c, nil
	}
	p.mu.Unlock()
	if p.dialer == nil {
		return nil, errors.New("chunk conn pool: dialer not configured")
	}
	conn, err := p.dialer.Dial(ctx, peerAddr)
	if err != nil {
		return nil, err
	}
	return &pooledChunkConn{Conn: conn, peerAddr: peerAddr, lastUsed: time.Now()}, nil
}

// Release returns conn to its peer's idle list, or closes it outright if
// the list is already at capacity or conn didn't come from Acquire.
func (p *ChunkConnPool) Release(conn net.Conn) {
	pc, ok := conn.(*pooledChunkConn)
	if !ok {
		_ = conn.Close()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxIdle > 0 && len(p.idle[pc.peerAddr]) < p.maxIdle {
		pc.lastUsed = time.Now()
		p.idle[pc.peerAddr] = append(p.idle[pc.peerAddr], pc)
		return
	}
	_ = pc.Close()
}

// Close closes every pooled connection and stops the reaper.
func (p *ChunkConnPool) Close() {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		defer p.mu.Unlock()
		for _, list := range p.idle {
			for _, c := range list {
				_ = c.Close()
			}
		}
		p.idle = make(map[string][]*pooledChunkConn)
	})
}

// IdleCount returns the total number of idle connections currently pooled
// across all peer addresses.
func (p *ChunkConnPool) IdleCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, list := range p.idle {
		count += len(list)
	}
	return count
}

// reap closes connections that have sat idle past idleTTL.
func (p *ChunkConnPool) reap() {
	ticker := time.NewTicker(p.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-p.idleTTL)
			p.mu.Lock()
			for addr, list := range p.idle {
				i := 0
				for _, c := range list {
					if c.lastUsed.Before(cutoff) {
						_ = c.Close()
						continue
					}
					list[i] = c
					i++
				}
				p.idle[addr] = list[:i]
			}
			p.mu.Unlock()
		case <-p.closing:
			return
		}
	}
}
