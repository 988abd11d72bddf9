package httppool

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsSameClientForSameKey(t *testing.T) {
	p := &Pool{clients: make(map[Key]*http.Client)}
	key := Key{BaseURL: "https://api.example.com", Timeout: 5 * time.Second, MaxConnections: 10}

	a := p.Acquire(key)
	b := p.Acquire(key)
	assert.Same(t, a, b)
}

func TestAcquireDistinguishesByCredentialFence(t *testing.T) {
	p := &Pool{clients: make(map[Key]*http.Client)}
	base := Key{BaseURL: "https://api.example.com", Timeout: 5 * time.Second}

	a := p.Acquire(base)
	withCred := base
	withCred.CredentialFence = "key-1"
	b := p.Acquire(withCred)
	assert.NotSame(t, a, b, "distinct credentials must not share a connection pool")
}

func TestAcquireAppliesTimeoutAndInsecureFlag(t *testing.T) {
	p := &Pool{clients: make(map[Key]*http.Client)}
	key := Key{BaseURL: "https://internal", Timeout: 2 * time.Second, InsecureSkipVerify: true}

	client := p.Acquire(key)
	require.Equal(t, 2*time.Second, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	require.NotNil(t, transport.TLSClientConfig)
	assert.True(t, transport.TLSClientConfig.InsecureSkipVerify)
}

func TestGlobalReturnsSamePoolAcrossCalls(t *testing.T) {
	assert.Same(t, Global(), Global())
}

func TestCleanupAllClearsCache(t *testing.T) {
	p := &Pool{clients: make(map[Key]*http.Client)}
	key := Key{BaseURL: "https://api.example.com"}
	first := p.Acquire(key)

	p.CleanupAll()

	second := p.Acquire(key)
	assert.NotSame(t, first, second, "cleanup must drop cached clients so a fresh one is built")
}
