// Package httppool maintains a process-wide pool of reusable HTTP clients
// keyed by destination, timeout, and connection limits, so repeated calls
// to the same provider share connections instead of re-dialing.
package httppool

import (
	"crypto/tls"
	"net/http"
	"sync"
	"time"
)

// Key identifies a reusable client. API keys are mixed in so distinct
// credentials never share a connection pool.
type Key struct {
	BaseURL            string
	Timeout            time.Duration
	MaxConnections     int
	MaxKeepAlive       int
	KeepAliveExpiry    time.Duration
	CredentialFence    string
	InsecureSkipVerify bool
}

// Pool is a mutex-guarded map of Key -> *http.Client. The original's
// "scheduler context -> inner map" two-level lock collapses to a single
// RWMutex here, since Go has one runtime rather than per-context event
// loops.
type Pool struct {
	mu      sync.RWMutex
	clients map[Key]*http.Client
}

var (
	globalMu   sync.Mutex
	globalPool = &Pool{clients: make(map[Key]*http.Client)}
)

// Global returns the process-wide pool.
func Global() *Pool {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalPool
}

// Acquire returns the client for key, creating and caching one under a
// double-checked lock if it doesn't exist yet.
func (p *Pool) Acquire(key Key) *http.Client {
	p.mu.RLock()
	client, ok := p.clients[key]
	p.mu.RUnlock()
	if ok {
		return client
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok = p.clients[key]; ok {
		return client
	}

	transport := &http.Transport{
		MaxConnsPerHost:     key.MaxConnections,
		MaxIdleConnsPerHost: key.MaxKeepAlive,
		IdleConnTimeout:     key.KeepAliveExpiry,
		ForceAttemptHTTP2:   true,
	}
	if key.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // caller opted in explicitly
	}
	client = &http.Client{
		Transport: transport,
		Timeout:   key.Timeout,
	}
	p.clients[key] = client
	return client
}

// CleanupAll closes every pooled transport's idle connections and drops the
// cache. Callers holding a *http.Client from before cleanup may keep using
// it; CloseIdleConnections closes only the connections idle at that
// moment, and the transport keeps pooling connections afterwards.
func (p *Pool) CleanupAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, client := range p.clients {
		if t, ok := client.Transport.(*http.Transport); ok {
			t.CloseIdleConnections()
		}
	}
	p.clients = make(map[Key]*http.Client)
}
