package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"canvass-bknd/internal/geo"
	"canvass-bknd/internal/models"
	"canvass-bknd/internal/store"

	"go.uber.org/zap"
)

// BoundaryService owns the set of named polygonal areas and the
// interactive drawing state machine. It is the only mutator of the
// boundary map; the marker service reads rings through Ring/Rings.
type BoundaryService struct {
	store  store.Store
	prefix string
	logr   *zap.Logger

	mu         sync.RWMutex
	boundaries map[string]*models.Boundary

	drawing bool
	pending []geo.Point
}

func NewBoundaryService(st store.Store, boundaryPrefix string, logr *zap.Logger) *BoundaryService {
	return &BoundaryService{
		store:      st,
		prefix:     boundaryPrefix,
		logr:       logr,
		boundaries: make(map[string]*models.Boundary),
	}
}

// StartDraw enters drawing mode, discarding any leftover vertices.
func (s *BoundaryService) StartDraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawing = true
	s.pending = nil
}

// AddVertex appends a map-click vertex to the ring in progress.
func (s *BoundaryService) AddVertex(pt geo.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.drawing {
		return fmt.Errorf("not in drawing mode")
	}
	s.pending = append(s.pending, pt)
	return nil
}

// CancelDraw leaves drawing mode without persisting anything.
func (s *BoundaryService) CancelDraw() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drawing = false
	s.pending = nil
}

// Drawing reports whether a draw is in progress and how many vertices
// have accumulated.
func (s *BoundaryService) Drawing() (bool, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.drawing, len(s.pending)
}

// FinishDraw closes the pending ring, persists it under the given area
// number and indexes it. Fewer than 3 vertices keeps the service in
// drawing mode so the user can keep clicking. An empty area number means
// the naming prompt was dismissed: the draw aborts outright, discarding
// the vertices, and nothing is persisted. A store failure leaves the
// boundary unindexed.
func (s *BoundaryService) FinishDraw(ctx context.Context, areaNumber string) (*models.Boundary, error) {
	s.mu.Lock()
	if !s.drawing {
		s.mu.Unlock()
		return nil, fmt.Errorf("not in drawing mode")
	}
	if len(s.pending) < 3 {
		s.mu.Unlock()
		return nil, fmt.Errorf("an area needs at least 3 points")
	}
	if strings.TrimSpace(areaNumber) == "" {
		s.drawing = false
		s.pending = nil
		s.mu.Unlock()
		return nil, fmt.Errorf("area number is required")
	}
	ring := append([]geo.Point(nil), s.pending...)
	s.mu.Unlock()

	b, err := s.create(ctx, areaNumber, ring)
	if err != nil {
		return nil, err
	}

	// Success ends the draw.
	s.mu.Lock()
	s.drawing = false
	s.pending = nil
	s.mu.Unlock()
	return b, nil
}

// Create persists a fully formed ring in one call. This is the
// request-level equivalent of FinishDraw for callers that accumulate
// vertices themselves.
func (s *BoundaryService) Create(ctx context.Context, areaNumber string, ring []geo.Point) (*models.Boundary, error) {
	if len(dropClosing(ring)) < 3 {
		return nil, fmt.Errorf("an area needs at least 3 points")
	}
	return s.create(ctx, areaNumber, ring)
}

func dropClosing(ring []geo.Point) []geo.Point {
	if len(ring) > 1 && ring[0] == ring[len(ring)-1] {
		return ring[:len(ring)-1]
	}
	return ring
}

func (s *BoundaryService) create(ctx context.Context, areaNumber string, ring []geo.Point) (*models.Boundary, error) {
	areaNumber = strings.TrimSpace(areaNumber)
	if areaNumber == "" {
		return nil, fmt.Errorf("area number is required")
	}

	b := &models.Boundary{
		AreaNumber: areaNumber,
		Ring:       geo.CloseRing(dropClosing(ring)),
	}
	if err := s.store.Save(ctx, s.prefix+areaNumber, b.ToDocument()); err != nil {
		s.logr.Error("failed to save area", zap.Error(err), zap.String("area", areaNumber))
		return nil, fmt.Errorf("failed to save area %s: %w", areaNumber, err)
	}

	s.mu.Lock()
	s.boundaries[areaNumber] = b
	s.mu.Unlock()
	s.logr.Info("area saved", zap.String("area", areaNumber), zap.Int("vertices", len(b.Ring)))
	return b, nil
}

// Delete removes the boundary remotely and locally. Confirmation is the
// caller's business; local state is untouched when the store call fails.
func (s *BoundaryService) Delete(ctx context.Context, areaNumber string) error {
	s.mu.RLock()
	_, ok := s.boundaries[areaNumber]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("area %s not found", areaNumber)
	}

	if err := s.store.Delete(ctx, s.prefix+areaNumber); err != nil {
		s.logr.Error("failed to delete area", zap.Error(err), zap.String("area", areaNumber))
		return fmt.Errorf("failed to delete area %s: %w", areaNumber, err)
	}

	s.mu.Lock()
	delete(s.boundaries, areaNumber)
	s.mu.Unlock()
	return nil
}

// LoadAll bulk-fetches every boundary document and replaces the in-memory
// set with the result.
func (s *BoundaryService) LoadAll(ctx context.Context) error {
	docs, err := s.store.LoadByPrefix(ctx, s.prefix)
	if err != nil {
		return fmt.Errorf("failed to load areas: %w", err)
	}

	loaded := make(map[string]*models.Boundary, len(docs))
	for _, doc := range docs {
		var bd models.BoundaryDocument
		if err := json.Unmarshal(doc.Data, &bd); err != nil {
			s.logr.Warn("skipping unreadable area document", zap.String("name", doc.Name), zap.Error(err))
			continue
		}
		areaNumber := strings.TrimPrefix(doc.Name, s.prefix)
		if bd.AreaNumber != "" {
			areaNumber = bd.AreaNumber
		}
		b := bd.ToBoundary()
		b.AreaNumber = areaNumber
		loaded[areaNumber] = b
	}

	s.mu.Lock()
	s.boundaries = loaded
	s.mu.Unlock()
	s.logr.Info("areas loaded", zap.Int("count", len(loaded)))
	return nil
}

// Ring returns the closed ring for an area, or nil when unknown.
func (s *BoundaryService) Ring(areaNumber string) []geo.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.boundaries[areaNumber]
	if !ok {
		return nil
	}
	return append([]geo.Point(nil), b.Ring...)
}

// Rings resolves the given area numbers to their rings, skipping unknown
// ones. A nil or empty argument returns every ring keyed by area number.
func (s *BoundaryService) Rings(areaNumbers []string) map[string][]geo.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]geo.Point)
	if len(areaNumbers) == 0 {
		for num, b := range s.boundaries {
			out[num] = append([]geo.Point(nil), b.Ring...)
		}
		return out
	}
	for _, num := range areaNumbers {
		if b, ok := s.boundaries[num]; ok {
			out[num] = append([]geo.Point(nil), b.Ring...)
		}
	}
	return out
}

// VisibleAreas resolves an area filter to the known area numbers, sorted
// ascending. A nil or empty filter means every area is visible; unknown
// and blank entries are dropped.
func (s *BoundaryService) VisibleAreas(areaNumbers []string) []string {
	if len(areaNumbers) == 0 {
		return s.AreaNumbers()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{}, len(areaNumbers))
	out := make([]string, 0, len(areaNumbers))
	for _, num := range areaNumbers {
		num = strings.TrimSpace(num)
		if num == "" {
			continue
		}
		if _, dup := seen[num]; dup {
			continue
		}
		if _, ok := s.boundaries[num]; ok {
			seen[num] = struct{}{}
			out = append(out, num)
		}
	}
	sort.Strings(out)
	return out
}

// AreaNumbers lists the known areas in ascending order.
func (s *BoundaryService) AreaNumbers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nums := make([]string, 0, len(s.boundaries))
	for num := range s.boundaries {
		nums = append(nums, num)
	}
	sort.Strings(nums)
	return nums
}

// Boundaries returns a snapshot of every boundary.
func (s *BoundaryService) Boundaries() []*models.Boundary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Boundary, 0, len(s.boundaries))
	for _, b := range s.boundaries {
		out = append(out, &models.Boundary{
			AreaNumber: b.AreaNumber,
			Ring:       append([]geo.Point(nil), b.Ring...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AreaNumber < out[j].AreaNumber })
	return out
}
