package vnc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVNCAuthRoundTrip(t *testing.T) {
	challenge, err := generateChallenge()
	assert.NoError(t, err)
	assert.Len(t, challenge, challengeSize)

	response, err := expectedChallengeResponse("secret123", challenge)
	assert.NoError(t, err)
	assert.True(t, checkChallengeResponse("secret123", challenge, response))
	assert.False(t, checkChallengeResponse("wrongpass", challenge, response))
}

func TestVNCAuthKeyIsBitReversedAndPadded(t *testing.T) {
	key := vncAuthKey("ab")
	assert.Len(t, key, 8)
	assert.Equal(t, reverseBits('a'), key[0])
	assert.Equal(t, reverseBits('b'), key[1])
	assert.Equal(t, byte(0), key[2])
}

func TestReverseBits(t *testing.T) {
	assert.Equal(t, byte(0x01), reverseBits(0x80))
	assert.Equal(t, byte(0xFF), reverseBits(0xFF))
	assert.Equal(t, byte(0x00), reverseBits(0x00))
}
