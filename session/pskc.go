package session

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"

	"github.com/openthread/commissioner-core/commerr"
)

const (
	pskcSaltPrefix    = "Thread"
	pskcIterations    = 16384
	pskcLength        = 16
	maxNetworkNameLen = 16
	extPanIDLen       = 8
	minPassphraseLen  = 6
	maxPassphraseLen  = 255
)

// GeneratePSKc derives the pre-shared Commissioner key from a human
// passphrase, the network name, and the extended PAN ID, per the Thread
// specification's PBKDF2-based key-derivation function: salt =
// "Thread" || extPanId || networkName, HMAC-SHA256, 16384 iterations,
// 16-byte output.
func GeneratePSKc(passphrase, networkName string, extPanID []byte) ([]byte, error) {
	if len(extPanID) != extPanIDLen {
		return nil, commerr.New(commerr.InvalidArgs, "session: extended PAN ID must be 8 bytes")
	}
	if len(networkName) == 0 || len(networkName) > maxNetworkNameLen {
		return nil, commerr.New(commerr.InvalidArgs, "session: network name must be 1-16 bytes")
	}
	if len(passphrase) < minPassphraseLen || len(passphrase) > maxPassphraseLen {
		return nil, commerr.New(commerr.InvalidArgs, "session: passphrase must be 6-255 bytes")
	}

	salt := make([]byte, 0, len(pskcSaltPrefix)+extPanIDLen+len(networkName))
	salt = append(salt, pskcSaltPrefix...)
	salt = append(salt, extPanID...)
	salt = append(salt, networkName...)

	return pbkdf2.Key([]byte(passphrase), salt, pskcIterations, pskcLength, sha256.New), nil
}
