package cryptoutil

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"io"
	"strings"
)

// SHA256HexLen is the length of a hex encoded SHA-256 digest.
const SHA256HexLen = sha256.Size * 2

// SHA256Hex returns the lower case hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CopySHA256 copies src to dst and returns the byte count and the hex
// SHA-256 of everything copied. On error the digest is empty.
func CopySHA256(dst io.Writer, src io.Reader) (int64, string, error) {
	h := sha256.New()
	n, err := io.Copy(dst, io.TeeReader(src, h))
	if err != nil {
		return n, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}

// NormalizeSHA256Hex trims and lower cases a client supplied digest. ok is
// false unless the result is exactly 64 hex characters.
func NormalizeSHA256Hex(s string) (digest string, ok bool) {
	digest = strings.ToLower(strings.TrimSpace(s))
	if len(digest) != SHA256HexLen {
		return digest, false
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return digest, false
	}
	return digest, true
}

// HashEqual compares two hex digests in constant time.
func HashEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
