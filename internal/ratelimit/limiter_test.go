package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireWithinCapacity(t *testing.T) {
	l := NewLimiter(Config{Default: Class{Capacity: 2, RefillPerSecond: 0.001}})

	g1 := l.Acquire("example.com")
	g2 := l.Acquire("example.com")
	require.True(t, g1.OK)
	require.True(t, g2.OK)
	assert.Equal(t, "example.com", g1.Token.Domain)
}

func TestAcquireExhaustedReturnsDeadline(t *testing.T) {
	l := NewLimiter(Config{Default: Class{Capacity: 1, RefillPerSecond: 0.5}})

	g := l.Acquire("example.com")
	require.True(t, g.OK)

	// 桶已空：不阻塞，返回未来的重试时刻
	g = l.Acquire("example.com")
	require.False(t, g.OK)
	assert.True(t, g.RetryAt.After(time.Now()))
	// refill 0.5/s，下一个 token 约 2s 后
	assert.WithinDuration(t, time.Now().Add(2*time.Second), g.RetryAt, 500*time.Millisecond)
}

func TestCapacityNeverExceededInWindow(t *testing.T) {
	// refill 极慢，capacity 内的授予数不会超过 capacity
	l := NewLimiter(Config{Default: Class{Capacity: 3, RefillPerSecond: 0.0001}})

	granted := 0
	for i := 0; i < 10; i++ {
		if l.Acquire("slow.example.com").OK {
			granted++
		}
	}
	assert.Equal(t, 3, granted)
}

func TestPerDomainIsolation(t *testing.T) {
	l := NewLimiter(Config{Default: Class{Capacity: 1, RefillPerSecond: 0.001}})

	require.True(t, l.Acquire("a.example.com").OK)
	require.False(t, l.Acquire("a.example.com").OK)
	// 不同域名有独立 bucket
	require.True(t, l.Acquire("b.example.com").OK)
}

func TestDomainOverride(t *testing.T) {
	l := NewLimiter(Config{
		Default: Class{Capacity: 1, RefillPerSecond: 0.001},
		Domains: map[string]Class{"big.example.com": {Capacity: 5, RefillPerSecond: 0.001}},
	})

	granted := 0
	for i := 0; i < 8; i++ {
		if l.Acquire("big.example.com").OK {
			granted++
		}
	}
	assert.Equal(t, 5, granted)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", DomainOf("https://Example.com:8443/path?q=1"))
	assert.Equal(t, "sub.example.com", DomainOf("http://sub.example.com/"))
	assert.Equal(t, "not a url", DomainOf("not a url"))
}
