// Package oracle provides the default proof-of-work search: a SHA-224 digest
// of address, nonce and block hash must contain a prefix of the block hash's
// "hexbin" rendering whose length is the job difficulty.
package oracle

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
	"strings"
)

// nonceHexLen is the width of the nonce in the hashed input
const nonceHexLen = md5.Size * 2

// Hexbin is the default oracle. The zero value is ready to use.
type Hexbin struct{}

// Search tries up to budget nonces derived from seed. It returns the number
// of iterations performed and, when found, the nonce as a hex string.
func (Hexbin) Search(difficulty float64, address, contextHash string, budget uint64, seed []byte) (uint64, string, bool) {
	blockHex := normalizeHash(contextHash)
	needle := hexbin(decodeHash(contextHash))
	needle = needle[:clampDifficulty(difficulty, len(needle))]

	// Random tail of the nonce comes from the seed and the job
	h := md5.New()
	h.Write(seed)
	h.Write([]byte(address))
	h.Write([]byte(contextHash))
	nonce := []byte(hex.EncodeToString(h.Sum(nil)))

	input := make([]byte, 0, len(address)+nonceHexLen+len(blockHex))
	input = append(input, address...)
	nonceAt := len(input)
	input = append(input, nonce...)
	input = append(input, blockHex...)

	var counter [8]byte
	for count := uint64(1); count <= budget; count++ {
		binary.LittleEndian.PutUint64(counter[:], count)
		hex.Encode(input[nonceAt:nonceAt+16], counter[:])

		digest := sha256.Sum224(input)
		if strings.Contains(hexbin(digest[:]), needle) {
			return count, string(input[nonceAt : nonceAt+nonceHexLen]), true
		}
	}

	return budget, "", false
}

// Score returns the achieved difficulty of solution: the longest prefix of the
// block hash's hexbin found in the digest's hexbin.
func (Hexbin) Score(address, solution, contextHash string) float64 {
	needle := hexbin(decodeHash(contextHash))
	digest := sha256.Sum224([]byte(address + solution + normalizeHash(contextHash)))
	haystack := hexbin(digest[:])

	n := 0
	for n < len(needle) && strings.Contains(haystack, needle[:n+1]) {
		n++
	}
	return float64(n)
}

func clampDifficulty(difficulty float64, limit int) int {
	switch {
	case difficulty <= 0:
		return 0
	case difficulty >= float64(limit):
		return limit
	default:
		return int(difficulty)
	}
}

// decodeHash returns the raw block hash, or the text itself when it is not hex
func decodeHash(contextHash string) []byte {
	raw, err := hex.DecodeString(contextHash)
	if err != nil {
		return []byte(contextHash)
	}
	return raw
}

func normalizeHash(contextHash string) string {
	return hex.EncodeToString(decodeHash(contextHash))
}

// hexbin renders each hex digit of raw as the binary form of its ASCII code,
// without leading zeros
func hexbin(raw []byte) string {
	var sb strings.Builder
	sb.Grow(len(raw) * 14)
	for _, c := range []byte(hex.EncodeToString(raw)) {
		sb.WriteString(strconv.FormatUint(uint64(c), 2))
	}
	return sb.String()
}
