package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWIndex implements VectorIndex using the coder/hnsw pure Go HNSW
// implementation. Documents carry a metadata snapshot so filters can be
// applied without touching the relational store.
type HNSWIndex struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorIndexConfig

	// ID mapping (string <-> uint64)
	idMap   map[string]uint64 // document ID -> internal key
	keyMap  map[uint64]string // internal key -> document ID
	nextKey uint64            // next available key

	// Document snapshots without embeddings; the graph owns the vectors.
	docs map[string]*VectorDocument

	closed bool
}

// hnswSidecar stores ID mappings and document snapshots for persistence.
type hnswSidecar struct {
	IDMap   map[string]uint64
	NextKey uint64
	Config  VectorIndexConfig
	Docs    map[string]*VectorDocument
}

// NewHNSWIndex creates a new HNSW-based vector index.
func NewHNSWIndex(cfg VectorIndexConfig) (*HNSWIndex, error) {
	// Apply defaults
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16 // coder/hnsw default recommendation
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20 // coder/hnsw default
	}

	graph := hnsw.NewGraph[uint64]()

	switch cfg.Metric {
	case "cos":
		graph.Distance = hnsw.CosineDistance
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}

	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25 // default level generation factor (1/ln(M))

	return &HNSWIndex{
		graph:   graph,
		config:  cfg,
		idMap:   make(map[string]uint64),
		keyMap:  make(map[uint64]string),
		docs:    make(map[string]*VectorDocument),
		nextKey: 0,
	}, nil
}

// Upsert inserts documents, replacing any with the same ID.
func (s *HNSWIndex) Upsert(ctx context.Context, docs []*VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	// Validate before mutating anything
	for _, doc := range docs {
		if doc == nil || doc.ID == "" {
			return fmt.Errorf("document ID is required")
		}
		if len(doc.Embedding) != s.config.Dimensions {
			return ErrDimensionMismatch{
				Expected: s.config.Dimensions,
				Got:      len(doc.Embedding),
			}
		}
	}

	for _, doc := range docs {
		// If the ID exists, use lazy deletion (just update mappings, don't
		// remove from the graph). This avoids a bug in coder/hnsw where
		// deleting the last node breaks the graph.
		if existingKey, exists := s.idMap[doc.ID]; exists {
			delete(s.keyMap, existingKey) // orphan the old key
			delete(s.idMap, doc.ID)
		}

		key := s.nextKey
		s.nextKey++

		// Normalize vector for cosine similarity
		vec := make([]float32, len(doc.Embedding))
		copy(vec, doc.Embedding)
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}

		node := hnsw.MakeNode(key, vec)
		s.graph.Add(node)

		s.idMap[doc.ID] = key
		s.keyMap[key] = doc.ID
		s.docs[doc.ID] = &VectorDocument{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}
	}

	return nil
}

// Search finds the k nearest documents to the query vector, applying the
// filter to each candidate's metadata snapshot. The graph is over-queried
// to ride out lazy-deleted nodes and filter misses.
func (s *HNSWIndex) Search(ctx context.Context, query []float32, k int, filter *SearchFilter) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{
			Expected: s.config.Dimensions,
			Got:      len(query),
		}
	}

	if k <= 0 || s.graph.Len() == 0 {
		return []*VectorResult{}, nil
	}

	// Normalize query for cosine similarity
	normalizedQuery := make([]float32, len(query))
	copy(normalizedQuery, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(normalizedQuery)
	}

	// Over-fetch: orphaned nodes never match, and filters drop candidates
	fetchK := k + (s.graph.Len() - len(s.idMap))
	if !filter.IsZero() {
		fetchK = k*4 + (s.graph.Len() - len(s.idMap))
	}
	if fetchK > s.graph.Len() {
		fetchK = s.graph.Len()
	}

	nodes := s.graph.Search(normalizedQuery, fetchK)

	results := make([]*VectorResult, 0, k)
	for _, node := range nodes {
		id, exists := s.keyMap[node.Key]
		if !exists {
			// Lazy-deleted node still in the graph
			continue
		}

		doc := s.docs[id]
		if doc == nil {
			continue
		}
		if !s.matchesFilter(doc, filter) {
			continue
		}

		distance := s.graph.Distance(normalizedQuery, node.Value)
		noteID, _ := NoteIDFromVectorDocID(id)

		results = append(results, &VectorResult{
			NoteID:   noteID,
			DocID:    id,
			Distance: distance,
			Score:    distanceToScore(distance),
		})
		if len(results) >= k {
			break
		}
	}

	return results, nil
}

// matchesFilter applies the search filter to a document's metadata snapshot.
func (s *HNSWIndex) matchesFilter(doc *VectorDocument, filter *SearchFilter) bool {
	if filter.IsZero() {
		return true
	}
	m := doc.Metadata
	if filter.UserID != "" && m.UserID != filter.UserID {
		return false
	}
	if filter.ContentType != "" && m.ContentType != filter.ContentType {
		return false
	}
	if !filter.MatchesTags(DecodeTags(m.Tags)) {
		return false
	}
	return filter.MatchesTime(m.CreatedAt)
}

// Delete removes documents by ID.
// Uses lazy deletion to avoid coder/hnsw issues with deleting the last node.
func (s *HNSWIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	for _, id := range ids {
		if key, exists := s.idMap[id]; exists {
			// The node remains in the graph but won't appear in results
			delete(s.keyMap, key)
			delete(s.idMap, id)
			delete(s.docs, id)
		}
	}

	return nil
}

// Get returns the stored document without its embedding, for consistency
// checks.
func (s *HNSWIndex) Get(id string) (*VectorDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, false
	}

	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	cp := *doc
	return &cp, true
}

// AllIDs returns all document IDs in the index.
// Used for consistency checking between stores.
func (s *HNSWIndex) AllIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil
	}

	ids := make([]string, 0, len(s.idMap))
	for id := range s.idMap {
		ids = append(ids, id)
	}
	return ids
}

// Contains checks if an ID exists.
func (s *HNSWIndex) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	_, exists := s.idMap[id]
	return exists
}

// Count returns the number of live documents.
func (s *HNSWIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0
	}

	return len(s.idMap)
}

// IndexStats contains vector index statistics including orphan count.
type IndexStats struct {
	ValidIDs   int // Number of valid ID mappings (live documents)
	GraphNodes int // Total nodes in HNSW graph (includes orphans)
	Orphans    int // GraphNodes - ValidIDs (lazy-deleted nodes)
}

// Stats returns index statistics. Orphans are nodes that remain in the
// graph after lazy deletion.
func (s *HNSWIndex) Stats() IndexStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return IndexStats{}
	}

	validIDs := len(s.idMap)
	graphNodes := s.graph.Len()

	return IndexStats{
		ValidIDs:   validIDs,
		GraphNodes: graphNodes,
		Orphans:    graphNodes - validIDs,
	}
}

// Save persists the index to disk.
// Uses atomic save (temp file + rename).
func (s *HNSWIndex) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Save HNSW graph to temp file
	tmpIndexPath := path + ".tmp"
	file, err := os.Create(tmpIndexPath)
	if err != nil {
		return fmt.Errorf("failed to create index file: %w", err)
	}

	if err := s.graph.Export(file); err != nil {
		file.Close()
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to export graph: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to close index file: %w", err)
	}

	// Rename to final path (atomic on most filesystems)
	if err := os.Rename(tmpIndexPath, path); err != nil {
		os.Remove(tmpIndexPath)
		return fmt.Errorf("failed to rename index file: %w", err)
	}

	// Save ID mappings and document snapshots
	if err := s.saveSidecar(path + ".meta"); err != nil {
		return fmt.Errorf("failed to save metadata: %w", err)
	}

	return nil
}

// saveSidecar saves ID mappings and document snapshots to a gob file.
func (s *HNSWIndex) saveSidecar(path string) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp metadata file: %w", err)
	}

	side := hnswSidecar{
		IDMap:   s.idMap,
		NextKey: s.nextKey,
		Config:  s.config,
		Docs:    s.docs,
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(side); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		os.Remove(tmpPath)
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close metadata file: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// Load loads the index from disk.
func (s *HNSWIndex) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("index is closed")
	}

	// Load ID mappings first to get config
	if err := s.loadSidecar(path + ".meta"); err != nil {
		return fmt.Errorf("failed to load metadata: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open index file: %w", err)
	}
	defer file.Close()

	// Use bufio.Reader because coder/hnsw Import requires io.ByteReader
	reader := bufio.NewReader(file)
	if err := s.graph.Import(reader); err != nil {
		return fmt.Errorf("failed to import graph: %w", err)
	}

	return nil
}

// loadSidecar loads ID mappings and document snapshots from a gob file.
func (s *HNSWIndex) loadSidecar(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open metadata file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close metadata file", slog.String("error", err.Error()))
		}
	}()

	var side hnswSidecar

	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&side); err != nil {
		return fmt.Errorf("decode index metadata: %w", err)
	}

	// Rebuild mappings
	s.idMap = side.IDMap
	s.keyMap = make(map[uint64]string)
	s.nextKey = side.NextKey
	s.config = side.Config
	s.docs = side.Docs
	if s.docs == nil {
		s.docs = make(map[string]*VectorDocument)
	}

	for id, key := range s.idMap {
		s.keyMap[key] = id
	}

	return nil
}

// Close releases resources.
func (s *HNSWIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	// coder/hnsw Graph doesn't need explicit cleanup
	s.graph = nil

	return nil
}

// ReadHNSWIndexDimensions reads the dimensions from an existing index's
// sidecar file. Returns 0 if the file doesn't exist (fresh start).
// The path should be the index path (e.g., "vectors.hnsw").
func ReadHNSWIndexDimensions(vectorPath string) (int, error) {
	metaPath := vectorPath + ".meta"

	file, err := os.Open(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil // Fresh start
		}
		return 0, fmt.Errorf("failed to open index metadata: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			slog.Warn("failed to close index metadata file", slog.String("error", err.Error()))
		}
	}()

	var side hnswSidecar
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&side); err != nil {
		return 0, fmt.Errorf("failed to decode index metadata: %w", err)
	}

	return side.Config.Dimensions, nil
}

// Verify interface implementation
var _ VectorIndex = (*HNSWIndex)(nil)

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}

// distanceToScore converts cosine distance to similarity: max(0, 1 - d).
// Identical vectors score 1; anything past orthogonal clamps to 0.
func distanceToScore(distance float32) float32 {
	score := 1.0 - distance
	if score < 0 {
		return 0
	}
	return score
}
