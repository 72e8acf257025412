package vnc

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhlk/vnc/protocol"
)

func TestNewServerClampsNonPositiveDimensions(t *testing.T) {
	s := NewServer(0, -5)
	w, h := s.dimensions()
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

func TestSetPasswordTogglesAuth(t *testing.T) {
	s := NewServer(4, 4)
	_, hasAuth := s.authPassword()
	assert.False(t, hasAuth)

	s.SetPassword("secret")
	password, hasAuth := s.authPassword()
	assert.True(t, hasAuth)
	assert.Equal(t, "secret", password)

	s.SetPassword("")
	_, hasAuth = s.authPassword()
	assert.False(t, hasAuth)
}

func TestSetNameFallsBackToDefaultWhenEmpty(t *testing.T) {
	s := NewServer(4, 4)
	s.SetName("")
	assert.Equal(t, DefaultName, s.name)

	s.SetName("My Desktop")
	assert.Equal(t, "My Desktop", s.name)
}

func TestUpdateFramebufferReachesSharedFramebuffer(t *testing.T) {
	s := NewServer(4, 4)
	pixels := make([]byte, 2*2*4)
	for i := range pixels {
		pixels[i] = byte(i + 1)
	}
	assert.NoError(t, s.UpdateFramebuffer(pixels, 1, 1, 2, 2))
	got, err := s.Framebuffer().GetRect(1, 1, 2, 2)
	assert.NoError(t, err)
	assert.Equal(t, pixels, got)
}

func TestSendCutTextFramesMessage(t *testing.T) {
	s := NewServer(4, 4)
	_, client := primeConn(t, s, protocol.EncodingRaw)
	defer client.Close()

	go s.SendCutText("hi")

	buf := make([]byte, 8+2)
	_, err := readFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, protocol.ServerMsgServerCutText, buf[0])
	assert.Equal(t, []byte{0, 0, 0}, buf[1:4]) // padding
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(buf[4:8]))
	assert.Equal(t, "hi", string(buf[8:]))
}

func TestEmitEventDropsWhenChannelFull(t *testing.T) {
	s := NewServer(4, 4)
	for i := 0; i < cap(s.events); i++ {
		s.emitEvent(ClientDisconnected{ID: uint64(i)})
	}
	// one more beyond capacity must not block.
	s.emitEvent(ClientDisconnected{ID: 999})
}
