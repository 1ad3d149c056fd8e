// Package identity computes the stable task id spec.md §4.2 requires:
// a content hash of the call that produced the task, so re-submitting an
// identical call reuses the same row instead of creating a duplicate.
package identity

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

const digestSize = 16 // 128 bits, per spec.md §4.2

// Hash computes the task id for a call to appName (hashed at appHash)
// with canonically-encoded argsBlob and kwargsBlob (see internal/codec).
// The encoding is length-prefixed so that e.g. appName="ab" + appHash="c"
// never collides with appName="a" + appHash="bc".
func Hash(appName, appHash string, argsBlob, kwargsBlob []byte) (string, error) {
	h, err := blake2b.New(digestSize, nil)
	if err != nil {
		return "", err
	}

	for _, field := range [][]byte{[]byte(appName), []byte(appHash), argsBlob, kwargsBlob} {
		writeLenPrefixed(h, field)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func writeLenPrefixed(h interface{ Write([]byte) (int, error) }, b []byte) {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b)))
	h.Write(lenBuf[:])
	h.Write(b)
}
