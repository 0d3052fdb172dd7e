package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// identityDomain is the domain prefix for highlight identity hashes.
// Version suffix enables future algorithm migration.
const identityDomain = "kindlecards/highlight/v1"

// Identity computes the deduplication identity for a highlight.
//
// The identity is a SHA-256 over the content fields with domain separation
// and NUL field separators, so the same clipping always maps to the same
// row no matter how many times it is imported. Location and date are
// deliberately excluded: Kindle re-exports can shift locations for the
// same underlying highlight.
func Identity(bookTitle, author, content string) string {
	h := sha256.New()
	h.Write([]byte(identityDomain))
	h.Write([]byte{0x00})
	h.Write([]byte(bookTitle))
	h.Write([]byte{0x00})
	h.Write([]byte(author))
	h.Write([]byte{0x00})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
