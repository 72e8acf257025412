package vnc

import (
	"crypto/des"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
)

const challengeSize = 16

// generateChallenge produces the 16 random bytes the server sends a
// client once VNC Authentication is negotiated.
func generateChallenge() ([]byte, error) {
	challenge := make([]byte, challengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("vnc: generating auth challenge: %w", err)
	}
	return challenge, nil
}

// vncAuthKey derives the 8-byte DES key VNC Authentication uses from a
// plaintext password: truncate or zero-pad to 8 bytes, then reverse the
// bits within each byte. The bit reversal is a quirk inherited from
// RealVNC's original implementation; every compliant client reproduces it,
// so the server must too.
func vncAuthKey(password string) []byte {
	key := make([]byte, 8)
	copy(key, password)
	for i, b := range key {
		key[i] = reverseBits(b)
	}
	return key
}

func reverseBits(b byte) byte {
	var r byte
	for i := 0; i < 8; i++ {
		r <<= 1
		r |= b & 1
		b >>= 1
	}
	return r
}

// expectedChallengeResponse encrypts challenge under password's derived DES
// key, one 8-byte ECB block at a time (VNC Authentication predates any
// chained block mode).
func expectedChallengeResponse(password string, challenge []byte) ([]byte, error) {
	block, err := des.NewCipher(vncAuthKey(password))
	if err != nil {
		return nil, fmt.Errorf("vnc: constructing auth cipher: %w", err)
	}
	if len(challenge)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("%w: challenge length %d is not a multiple of the DES block size", ErrProtocol, len(challenge))
	}

	response := make([]byte, len(challenge))
	for i := 0; i < len(challenge); i += block.BlockSize() {
		block.Encrypt(response[i:i+block.BlockSize()], challenge[i:i+block.BlockSize()])
	}
	return response, nil
}

// checkChallengeResponse reports whether response is the correct DES
// encryption of challenge under password.
func checkChallengeResponse(password string, challenge, response []byte) bool {
	expected, err := expectedChallengeResponse(password, challenge)
	if err != nil || len(expected) != len(response) {
		return false
	}
	return subtle.ConstantTimeCompare(expected, response) == 1
}
