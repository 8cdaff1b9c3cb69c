package hal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPICDeliversLowestLineFirst(t *testing.T) {
	p := NewPIC()
	require.True(t, p.Raise(LineKeyboard))
	require.True(t, p.Raise(LineTimer))

	line, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, LineTimer, line)

	line, ok = p.Next()
	require.True(t, ok)
	assert.Equal(t, LineKeyboard, line)

	_, ok = p.Next()
	assert.False(t, ok)

	irr, isr, _ := p.Registers()
	assert.Equal(t, uint8(0), irr)
	assert.Equal(t, uint8(0b11), isr)
}

func TestPICDropsUntilAck(t *testing.T) {
	p := NewPIC()
	require.True(t, p.Raise(LineTimer))
	assert.False(t, p.Raise(LineTimer), "already pending")

	_, ok := p.Next()
	require.True(t, ok)
	assert.False(t, p.Raise(LineTimer), "in service")
	assert.Equal(t, uint64(2), p.Dropped(LineTimer))

	p.Ack(LineTimer)
	assert.True(t, p.Raise(LineTimer))
}

func TestPICMask(t *testing.T) {
	p := NewPIC()
	p.Mask(LineKeyboard)
	assert.False(t, p.Raise(LineKeyboard))
	_, ok := p.Next()
	assert.False(t, ok)

	p.Unmask(LineKeyboard)
	require.True(t, p.Raise(LineKeyboard))
	select {
	case <-p.Notify():
	default:
		t.Fatal("no notification after latch")
	}
	line, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, LineKeyboard, line)
}

func TestPICOutOfRange(t *testing.T) {
	p := NewPIC()
	assert.False(t, p.Raise(NumLines))
	assert.Equal(t, uint64(0), p.Dropped(NumLines))
	p.Ack(NumLines)
	p.Mask(NumLines)
	_, _, imr := p.Registers()
	assert.Equal(t, uint8(0), imr)
}
