package syncer

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/mhcp0001/NescordBot-sub000/internal/store"
)

// ContentHash fingerprints the embeddable content of a note under a
// given model. Title, content, sorted tags, and the model name all feed
// the hash, so any change that would alter the stored vector shows up
// as a new hash. Because the model name is included, switching
// embedding models invalidates every note at once.
func ContentHash(note *store.Note, model string) string {
	h := sha256.New()
	h.Write([]byte(note.Title))
	h.Write([]byte{0})
	h.Write([]byte(note.Content))
	h.Write([]byte{0})
	h.Write([]byte(store.EncodeTags(note.Tags)))
	h.Write([]byte{0})
	h.Write([]byte(model))
	return hex.EncodeToString(h.Sum(nil))
}
