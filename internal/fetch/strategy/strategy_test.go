package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryOrdering(t *testing.T) {
	r := DefaultRegistry()
	ss := r.Strategies()
	require.Len(t, ss, 3)

	// 成本升序：便宜的先试
	for i := 1; i < len(ss); i++ {
		assert.Greater(t, ss[i].Cost, ss[i-1].Cost)
	}
	assert.Equal(t, KindPlain, ss[0].Name)
	assert.Equal(t, KindProxy, ss[2].Name)
	assert.True(t, ss[2].RotatesIdentity)
}

func TestNext(t *testing.T) {
	r := DefaultRegistry()

	s, idx, ok := r.Next(0)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, KindRendered, s.Name)

	// 最后一个策略之后没有更强的
	_, _, ok = r.Next(r.Len() - 1)
	assert.False(t, ok)

	_, _, ok = r.Next(-5)
	assert.False(t, ok)
}

func TestAtAndIndexOf(t *testing.T) {
	r := DefaultRegistry()

	s, ok := r.At(1)
	require.True(t, ok)
	assert.Equal(t, KindRendered, s.Name)

	_, ok = r.At(99)
	assert.False(t, ok)

	assert.Equal(t, 2, r.IndexOf(KindProxy))
	assert.Equal(t, -1, r.IndexOf(Kind("unknown")))
}
