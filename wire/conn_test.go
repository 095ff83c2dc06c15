package wire

import (
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loopbackAddr(t *testing.T, c *Conn) *net.UDPAddr {
	t.Helper()
	local, ok := c.LocalAddr().(*net.UDPAddr)
	require.True(t, ok)
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: local.Port}
}

func receive(t *testing.T, msgs <-chan *dns.Msg) *dns.Msg {
	t.Helper()
	select {
	case m, ok := <-msgs:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
		return nil
	}
}

func TestListenUsesMDNSPort(t *testing.T) {
	c, err := Listen(nil)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, Port, c.LocalAddr().(*net.UDPAddr).Port)

	// a second listener shares the port
	other, err := Listen(nil)
	require.NoError(t, err)
	defer other.Close()
	assert.Equal(t, Port, other.LocalAddr().(*net.UDPAddr).Port)
}

func TestDialUsesEphemeralPort(t *testing.T) {
	c, err := Dial(nil)
	require.NoError(t, err)
	defer c.Close()
	assert.NotEqual(t, Port, c.LocalAddr().(*net.UDPAddr).Port)
}

func TestReadMessagesDropsGarbage(t *testing.T) {
	c, err := Dial(nil)
	require.NoError(t, err)
	defer c.Close()
	msgs := c.ReadMessages()

	peer, err := net.DialUDP("udp4", nil, loopbackAddr(t, c))
	require.NoError(t, err)
	defer peer.Close()

	raw, err := Encode(Query("box.local", dns.TypeA))
	require.NoError(t, err)
	_, err = peer.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	_, err = peer.Write(raw)
	require.NoError(t, err)

	m := receive(t, msgs)
	require.Len(t, m.Question, 1)
	assert.Equal(t, "box.local.", m.Question[0].Name)
}

func TestSendMessage(t *testing.T) {
	receiver, err := Dial(nil)
	require.NoError(t, err)
	defer receiver.Close()
	msgs := receiver.ReadMessages()

	sender, err := Dial(nil)
	require.NoError(t, err)
	defer sender.Close()
	sender.group4 = loopbackAddr(t, receiver)

	require.NoError(t, sender.SendMessage(Announcement([]dns.RR{hostA()})))

	m := receive(t, msgs)
	assert.True(t, m.Response)
	require.Len(t, m.Answer, 1)
	assert.Equal(t, "box.local.", m.Answer[0].Header().Name)
}

func TestCloseEndsReadMessages(t *testing.T) {
	c, err := Dial(nil)
	require.NoError(t, err)
	msgs := c.ReadMessages()

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-msgs:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}
