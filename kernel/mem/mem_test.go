package mem

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBase = 0x1000

func newTestManager(t *testing.T, size uint32) *Manager {
	t.Helper()
	m, err := New(Config{Base: testBase, Size: size}, nil)
	require.NoError(t, err)
	return m
}

func TestAllocateSplitsAndFreeCoalesces(t *testing.T) {
	for _, order := range [][]string{{"X", "Y"}, {"Y", "X"}} {
		t.Run(order[0]+"-first", func(t *testing.T) {
			m := newTestManager(t, 1000)

			x, err := m.Allocate(100, "X")
			require.NoError(t, err)
			y, err := m.Allocate(50, "Y")
			require.NoError(t, err)

			want := []Block{
				{Start: testBase, Size: 100, Allocated: true, Owner: "X"},
				{Start: testBase + 100, Size: 50, Allocated: true, Owner: "Y"},
				{Start: testBase + 150, Size: 850, Owner: OwnerFree},
			}
			if diff := cmp.Diff(want, m.Blocks()); diff != "" {
				t.Fatalf("blocks after allocate (-want +got):\n%s", diff)
			}

			addrs := map[string]uint32{"X": x, "Y": y}
			for _, name := range order {
				require.NoError(t, m.Free(addrs[name]))
				require.NoError(t, m.Check())
			}

			want = []Block{{Start: testBase, Size: 1000, Owner: OwnerFree}}
			if diff := cmp.Diff(want, m.Blocks()); diff != "" {
				t.Fatalf("blocks after free (-want +got):\n%s", diff)
			}
			used, total := m.Usage()
			assert.Zero(t, used)
			assert.Equal(t, uint32(1000), total)
		})
	}
}

func TestAllocateFreePairRestoresLayout(t *testing.T) {
	m := newTestManager(t, 4096)
	_, err := m.Allocate(300, "A")
	require.NoError(t, err)
	b, err := m.Allocate(200, "B")
	require.NoError(t, err)
	_, err = m.Allocate(100, "C")
	require.NoError(t, err)
	require.NoError(t, m.Free(b))

	before := m.Blocks()
	for _, size := range []uint32{1, 64, 150, 200, 2000} {
		addr, err := m.Allocate(size, "tmp")
		require.NoError(t, err)
		require.NoError(t, m.Free(addr))
		if diff := cmp.Diff(before, m.Blocks(), cmpopts.IgnoreFields(Block{}, "Owner")); diff != "" {
			t.Fatalf("size %d: layout changed (-before +after):\n%s", size, diff)
		}
	}
}

func TestAllocateFirstFit(t *testing.T) {
	m := newTestManager(t, 2000)
	a, _ := m.Allocate(200, "A")
	_, _ = m.Allocate(200, "B")
	c, _ := m.Allocate(400, "C")
	_, _ = m.Allocate(100, "D")
	require.NoError(t, m.Free(a))
	require.NoError(t, m.Free(c))

	got, err := m.Allocate(150, "E")
	require.NoError(t, err)
	assert.Equal(t, a, got, "first free block in address order should win")

	got, err = m.Allocate(300, "F")
	require.NoError(t, err)
	assert.Equal(t, c, got)
	require.NoError(t, m.Check())
}

func TestAllocateNoSplitWithinOverhead(t *testing.T) {
	m := newTestManager(t, 1000)
	addr, err := m.Allocate(1000-Overhead, "big")
	require.NoError(t, err)

	blocks := m.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, uint32(1000), blocks[0].Size)
	used, _ := m.Usage()
	assert.Equal(t, uint32(1000), used)

	require.NoError(t, m.Free(addr))
	used, _ = m.Usage()
	assert.Zero(t, used)
}

func TestAllocateErrors(t *testing.T) {
	m := newTestManager(t, 1000)

	_, err := m.Allocate(0, "zero")
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = m.Allocate(1001, "huge")
	assert.ErrorIs(t, err, ErrOutOfMemory)

	_, err = m.Allocate(900, "A")
	require.NoError(t, err)
	_, err = m.Allocate(200, "B")
	assert.ErrorIs(t, err, ErrOutOfMemory)
	require.NoError(t, m.Check())
}

func TestFreeInvalidPointerLeavesStateAlone(t *testing.T) {
	m := newTestManager(t, 1000)
	addr, err := m.Allocate(100, "A")
	require.NoError(t, err)
	before := m.Blocks()

	assert.ErrorIs(t, m.Free(addr+1), ErrInvalidPointer)
	assert.ErrorIs(t, m.Free(testBase+100), ErrInvalidPointer, "free block start")
	assert.ErrorIs(t, m.Free(0xdeadbeef), ErrInvalidPointer)
	assert.Equal(t, before, m.Blocks())

	require.NoError(t, m.Free(addr))
	assert.ErrorIs(t, m.Free(addr), ErrInvalidPointer, "double free")
}

func TestOwnerTruncated(t *testing.T) {
	m := newTestManager(t, 1000)
	_, err := m.Allocate(10, "an-owner-tag-that-is-far-too-long-to-fit")
	require.NoError(t, err)
	assert.Len(t, m.Blocks()[0].Owner, maxOwnerLen)
}

func TestRandomSequenceKeepsInvariants(t *testing.T) {
	m := newTestManager(t, 64*1024)
	rng := rand.New(rand.NewSource(7))
	var live []uint32

	for i := 0; i < 5000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			require.NoError(t, m.Free(live[j]))
			live = append(live[:j], live[j+1:]...)
		} else {
			addr, err := m.Allocate(uint32(rng.Intn(2048)+1), "rnd")
			if err == nil {
				live = append(live, addr)
			} else {
				require.ErrorIs(t, err, ErrOutOfMemory)
			}
		}
		require.NoError(t, m.Check(), "step %d", i)
	}

	for _, addr := range live {
		require.NoError(t, m.Free(addr))
	}
	assert.Len(t, m.Blocks(), 1)
}

func TestArenaAccess(t *testing.T) {
	m := newTestManager(t, 256)

	n, err := m.WriteAt([]byte("hello\x00world"), testBase+10)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	s, err := m.CString(testBase+10, 64)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	buf := make([]byte, 5)
	_, err = m.ReadAt(buf, testBase+16)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf))

	_, err = m.WriteAt(make([]byte, 10), testBase+250)
	assert.ErrorIs(t, err, ErrBadAddress)
	_, err = m.ReadAt(buf, testBase-1)
	assert.ErrorIs(t, err, ErrBadAddress)
	_, err = m.CString(testBase+256, 4)
	assert.ErrorIs(t, err, ErrBadAddress)
}
