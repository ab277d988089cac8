package news

import (
	"strings"

	"github.com/JakeFAU/realtime-news-indexer/internal/hash/sha256"
)

const (
	// maxDocumentIDBytes is the Elasticsearch limit on _id length.
	maxDocumentIDBytes = 512
	longIDPrefixBytes  = 440
)

var hasher = sha256.New()

// DocumentID maps a canonical article link to its index primary key: the scheme
// prefix is removed and every "/" becomes "_". Identifiers that would exceed the
// store limit keep a prefix and gain the SHA-256 digest of the full link.
func DocumentID(link string) string {
	id := link
	lower := strings.ToLower(id)
	switch {
	case strings.HasPrefix(lower, "https://"):
		id = id[len("https://"):]
	case strings.HasPrefix(lower, "http://"):
		id = id[len("http://"):]
	}
	id = strings.ReplaceAll(id, "/", "_")
	if len(id) <= maxDocumentIDBytes {
		return id
	}
	digest, _ := hasher.Hash([]byte(link))
	return truncateUTF8(id, longIDPrefixBytes) + "~" + digest
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
