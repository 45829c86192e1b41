// Package fileid derives stable identifiers for corpus documents and chunks,
// so re-ingesting the same corpus overwrites records instead of duplicating them.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

const prefix = "file:"

// chunkSpace is the UUIDv5 namespace for chunk IDs.
var chunkSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://hyperjump.tech/kotae/chunk"))

// FileDocID returns a stable document ID for the given path.
// Same path always yields the same ID.
func FileDocID(path string) string {
	normalized := filepath.Clean(path)
	hash := sha256.Sum256([]byte(normalized))
	return prefix + hex.EncodeToString(hash[:])
}

// PageDocID returns the ID of one page of a paged file. Page 0 means the file
// is not paged and yields FileDocID(path).
func PageDocID(path string, page int) string {
	id := FileDocID(path)
	if page <= 0 {
		return id
	}
	return id + "#p" + strconv.Itoa(page)
}

// ChunkID returns a UUIDv5 for the chunk at index within docID. Vector stores
// that only accept UUID point IDs can use it as is.
func ChunkID(docID string, index int) string {
	return uuid.NewSHA1(chunkSpace, []byte(docID+"/"+strconv.Itoa(index))).String()
}
