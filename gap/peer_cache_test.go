package gap

import (
	"testing"
	"time"

	"github.com/rigado/bthost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testBrEdrAddr = bthost.NewAddr(bthost.AddrTypeBREDR, [6]byte{1, 2, 3, 4, 5, 6})
	testLEAddr    = bthost.NewAddr(bthost.AddrTypeLEPublic, [6]byte{1, 2, 3, 4, 5, 6})
	testRandAddr  = bthost.NewAddr(bthost.AddrTypeLERandom, [6]byte{1, 2, 3, 4, 5, 0xc6})
)

func TestPeerCacheNewPeer(t *testing.T) {
	c := NewPeerCache()
	defer c.Close()

	p := c.NewPeer(testBrEdrAddr, true)
	require.NotNil(t, p)
	assert.Nil(t, c.NewPeer(testBrEdrAddr, true))
	assert.Equal(t, 1, c.Count())

	got, ok := c.FindByID(p.ID())
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestPeerCacheDualModeLookup(t *testing.T) {
	c := NewPeerCache()
	defer c.Close()

	p := c.NewPeer(testBrEdrAddr, true)
	require.NotNil(t, p)

	got, ok := c.FindByAddress(testLEAddr)
	require.True(t, ok)
	assert.Equal(t, p.ID(), got.ID())

	// A random address never matches a public one.
	_, ok = c.FindByAddress(testRandAddr)
	assert.False(t, ok)
}

func TestPeerCacheRemoveDisconnectedPeer(t *testing.T) {
	c := NewPeerCache()
	defer c.Close()

	p := c.NewPeer(testLEAddr, true)
	p.SetLEConnectionState(Connected)
	assert.False(t, c.RemoveDisconnectedPeer(p.ID()))

	p.SetLEConnectionState(NotConnected)
	assert.True(t, c.RemoveDisconnectedPeer(p.ID()))
	_, ok := c.FindByAddress(testLEAddr)
	assert.False(t, ok)

	// Unknown peers count as removed.
	assert.True(t, c.RemoveDisconnectedPeer(bthost.NewPeerID()))
}

func TestPeerCacheSubscribe(t *testing.T) {
	c := NewPeerCache()
	defer c.Close()

	ch, cancel := c.Subscribe()
	defer cancel()

	p := c.NewPeer(testBrEdrAddr, true)
	p.SetName("headset")

	var names []string
	timeout := time.After(time.Second)
	for len(names) < 2 {
		select {
		case u := <-ch:
			require.Equal(t, p.ID(), u.ID())
			name, _ := u.Name()
			names = append(names, name)
		case <-timeout:
			t.Fatalf("got %d updates, want 2", len(names))
		}
	}
	assert.Equal(t, "headset", names[1])
}

func TestPeerCacheRecordRestore(t *testing.T) {
	c := NewPeerCache()
	defer c.Close()

	p := c.NewPeer(testLEAddr, true)
	p.SetName("sensor")
	p.SetVersion(Version{LMPVersion: 9, Manufacturer: 0x000f, LMPSubversion: 0x1234})

	r := p.Record()
	require.NotNil(t, r.Name)
	require.NotNil(t, r.Version)

	c2 := NewPeerCache()
	defer c2.Close()

	q, err := c2.Restore(r)
	require.NoError(t, err)
	assert.Equal(t, p.ID(), q.ID())
	assert.Equal(t, testLEAddr, q.Address())

	name, ok := q.Name()
	assert.True(t, ok)
	assert.Equal(t, "sensor", name)
	v, ok := q.Version()
	assert.True(t, ok)
	assert.Equal(t, uint16(0x1234), v.LMPSubversion)

	_, err = c2.Restore(r)
	assert.Error(t, err)
}
