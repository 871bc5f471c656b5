package assets

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/mr-tron/base58"
)

// contentHashLength matches the width of the hashes esbuild puts in names.
const contentHashLength = 8

// ContentHash returns a short, filename-safe digest of data. Identical content
// always yields the same hash.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:])[:contentHashLength]
}

// expandPattern substitutes the name and hash placeholders of a filename
// pattern.
func expandPattern(pattern, name string, contents []byte) string {
	out := strings.ReplaceAll(pattern, NamePlaceholder, name)
	if strings.Contains(out, HashPlaceholder) {
		out = strings.ReplaceAll(out, HashPlaceholder, ContentHash(contents))
	}
	return out
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
