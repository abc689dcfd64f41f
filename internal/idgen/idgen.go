// Package idgen generates short, alphabet-restricted random identifiers.
//
// It generalizes the single-purpose id helper tusd carries in
// internal/uid (a fixed-length hex string) into a configurable
// alphabet/length generator, since chunkd needs two distinct id shapes:
// a human-typable user key and a wider-alphabet upload id.
package idgen

import (
	"crypto/rand"
	"math/big"
)

// UserAlphabet excludes characters that are easy to confuse when read aloud
// or copied by hand: 0, O, I and l.
const UserAlphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// UploadAlphabet is the full alphanumeric set.
const UploadAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// UserIDLength is the length of a generated user id.
const UserIDLength = 16

// UploadIDLength is the length of a generated upload id.
const UploadIDLength = 20

// New returns a random string of length drawn uniformly from alphabet.
// It panics if alphabet is empty, since that indicates a programming error
// rather than a runtime condition callers can recover from.
func New(alphabet string, length int) string {
	if len(alphabet) == 0 {
		panic("idgen: empty alphabet")
	}

	max := big.NewInt(int64(len(alphabet)))
	id := make([]byte, length)
	for i := range id {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		id[i] = alphabet[n.Int64()]
	}
	return string(id)
}

// UserID generates a 16-character id from the ambiguity-free user alphabet.
func UserID() string {
	return New(UserAlphabet, UserIDLength)
}

// UploadID generates a 20-character alphanumeric id.
func UploadID() string {
	return New(UploadAlphabet, UploadIDLength)
}
