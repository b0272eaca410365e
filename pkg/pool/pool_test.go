package pool

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

type item struct{ n int }

func TestGetPutResets(t *testing.T) {
	p := New(func() *item { return &item{} }, func(i *item) { i.n = 0 })

	a := p.Get()
	a.n = 7
	allocated, inUse, _ := p.Stats()
	assert.Equal(t, int64(1), allocated)
	assert.Equal(t, int64(1), inUse)

	p.Put(a)
	_, inUse, _ = p.Stats()
	assert.Equal(t, int64(0), inUse)

	// sync.Pool may drop objects at any time; a reused one must be reset
	b := p.Get()
	assert.Equal(t, 0, b.n)
}

func TestAcceptDropsObjects(t *testing.T) {
	var resets int
	p := New(func() *item { return &item{} }, func(*item) { resets++ },
		WithAccept(func(i *item) bool { return i.n < 10 }))

	big := p.Get()
	big.n = 100
	p.Put(big)
	assert.Equal(t, 0, resets, "rejected objects are not reset")

	small := p.Get()
	p.Put(small)
	assert.Equal(t, 1, resets)
}

func TestBuffers(t *testing.T) {
	buf := Buffers.Get()
	buf.WriteString("abc")
	Buffers.Put(buf)

	again := Buffers.Get()
	assert.Equal(t, 0, again.Len())
	Buffers.Put(again)

	large := bytes.NewBuffer(make([]byte, 0, 2*maxPooledBuffer))
	Buffers.Put(large)
	got := Buffers.Get()
	assert.LessOrEqual(t, got.Cap(), maxPooledBuffer)
}
