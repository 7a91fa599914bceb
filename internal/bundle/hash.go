package bundle

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// HashText digests UTF-8 text to a stable hex string. Identical bytes hash
// identically regardless of process, locale, or platform; everything the
// engine treats as "unchanged" reduces to equality of these digests.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashContext digests bundle text together with its execution context. Each
// part is length-prefixed so distinct part boundaries can never collide into
// the same byte stream.
func HashContext(text, modelID, labelSpecKey, filterKey, timezone string) string {
	h := sha256.New()
	for _, part := range []string{text, modelID, labelSpecKey, filterKey, timezone} {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
