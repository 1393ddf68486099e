package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"canvass-bknd/internal/geo"
	"canvass-bknd/internal/geocode"
	"canvass-bknd/internal/models"
	"canvass-bknd/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Geocoder resolves a coordinate to an address suggestion.
type Geocoder interface {
	Reverse(ctx context.Context, lat, lng float64) (string, error)
}

// Provisional is a site created on the map but not yet persisted. It has
// no address yet; the local id is its only identity and never leaves this
// process.
type Provisional struct {
	LocalID          string        `json:"localId"`
	Position         models.LatLng `json:"position"`
	SuggestedAddress string        `json:"suggestedAddress,omitempty"`
}

// MarkerService owns the visit-site map: the provisional→persisted
// lifecycle, bulk loading, edits, deletes, area filtering, bulk status
// reset and export rows. The address string is the identity of a
// persisted site and doubles as its document name in the store.
type MarkerService struct {
	store      store.Store
	boundaries *BoundaryService
	geocoder   Geocoder
	rule       *NotifyRule
	logr       *zap.Logger

	// Document names carrying these prefixes share the namespace but are
	// not sites.
	boundaryPrefix string
	settingsPrefix string

	mu           sync.RWMutex
	sites        map[string]*models.Site  // keyed by address
	provisionals map[string]*Provisional  // keyed by local id
	areaFilter   []string                 // last applied filter, nil = all
	visible      map[string]struct{}      // rebuilt on every filter change
}

func NewMarkerService(st store.Store, boundaries *BoundaryService, geocoder Geocoder, rule *NotifyRule, boundaryPrefix, settingsPrefix string, logr *zap.Logger) *MarkerService {
	return &MarkerService{
		store:          st,
		boundaries:     boundaries,
		geocoder:       geocoder,
		rule:           rule,
		logr:           logr,
		boundaryPrefix: boundaryPrefix,
		settingsPrefix: settingsPrefix,
		sites:          make(map[string]*models.Site),
		provisionals:   make(map[string]*Provisional),
		visible:        make(map[string]struct{}),
	}
}

// CreateProvisional adds a new unsaved site at the clicked position and
// kicks off a reverse-geocode to suggest an address. The lookup never
// blocks creation: on failure the suggestion becomes a fixed placeholder.
func (s *MarkerService) CreateProvisional(pos models.LatLng) *Provisional {
	p := &Provisional{
		LocalID:  "new-" + strconv.FormatInt(time.Now().UnixNano(), 10),
		Position: pos,
	}
	s.mu.Lock()
	s.provisionals[p.LocalID] = p
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		addr, err := s.geocoder.Reverse(ctx, pos.Lat, pos.Lng)
		if err != nil {
			s.logr.Warn("reverse geocode failed", zap.Error(err), zap.String("local_id", p.LocalID))
			addr = geocode.FailurePlaceholder
		}

		// The provisional may have been committed or cancelled while the
		// lookup was in flight.
		s.mu.Lock()
		if cur, ok := s.provisionals[p.LocalID]; ok {
			cur.SuggestedAddress = addr
		}
		s.mu.Unlock()
	}()

	return p
}

// GetProvisional returns a provisional by local id, or nil.
func (s *MarkerService) GetProvisional(localID string) *Provisional {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.provisionals[localID]
	if !ok {
		return nil
	}
	cp := *p
	return &cp
}

// CommitNew persists a provisional site under the submitted address and
// promotes it into the site map. Promotion is all-or-nothing: when the
// store write fails the provisional is removed outright so no orphaned
// state survives.
func (s *MarkerService) CommitNew(ctx context.Context, localID string, form models.SiteForm) (*models.Site, error) {
	address := strings.TrimSpace(form.Address)
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}

	s.mu.Lock()
	p, ok := s.provisionals[localID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("marker %s not found", localID)
	}
	pos := p.Position
	s.mu.Unlock()

	site := siteFromForm(address, &pos, form, nil)
	site.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := s.store.Save(ctx, address, site); err != nil {
		// Roll back: the provisional goes away entirely.
		s.mu.Lock()
		delete(s.provisionals, localID)
		s.mu.Unlock()
		s.logr.Error("failed to save new site", zap.Error(err), zap.String("address", address))
		return nil, fmt.Errorf("failed to save %s: %w", address, err)
	}

	s.mu.Lock()
	delete(s.provisionals, localID)
	s.sites[address] = site
	s.rebuildVisibleLocked()
	s.mu.Unlock()

	s.logr.Info("site created", zap.String("address", address))
	return site.Clone(), nil
}

// CancelNew discards a provisional site. No remote call is made.
func (s *MarkerService) CancelNew(localID string) {
	s.mu.Lock()
	delete(s.provisionals, localID)
	s.mu.Unlock()
}

// siteFromForm builds the site to persist. Apartment buildings never
// carry a site-level status or language: both are forced back to their
// defaults no matter what the form submitted.
func siteFromForm(address string, pos *models.LatLng, form models.SiteForm, existing *models.Site) *models.Site {
	site := &models.Site{
		Address:           address,
		Name:              form.Name,
		Position:          pos,
		Status:            form.Status,
		Memo:              form.Memo,
		HasCameraIntercom: form.HasCameraIntercom,
		Language:          form.Language,
		IsApartment:       form.IsApartment,
	}
	if site.Status == "" {
		site.Status = models.StatusUnvisited
	}
	if site.Language == "" {
		site.Language = models.LanguageNone
	}

	switch {
	case form.ApartmentDetail != nil:
		site.ApartmentDetail = form.ApartmentDetail.Clone()
	case existing != nil:
		// Fields the form does not carry are preserved from the stored
		// document, not dropped.
		site.ApartmentDetail = existing.ApartmentDetail.Clone()
	}

	if site.IsApartment {
		site.Status = models.StatusUnvisited
		site.Language = models.LanguageNone
	}
	return site
}

// SaveEdit overwrites a persisted site with the submitted form values and
// reports the coordinator notice the edit triggered, if any.
func (s *MarkerService) SaveEdit(ctx context.Context, address string, form models.SiteForm) (*models.Site, Notice, error) {
	s.mu.RLock()
	prev, ok := s.sites[address]
	var prevClone *models.Site
	if ok {
		prevClone = prev.Clone()
	}
	s.mu.RUnlock()
	if !ok {
		return nil, NoticeNone, fmt.Errorf("site %s not found", address)
	}

	site := siteFromForm(address, prevClone.Position, form, prevClone)
	site.UpdatedAt = time.Now().UTC().Format(time.RFC3339)

	if err := s.store.Save(ctx, address, site); err != nil {
		s.logr.Error("failed to save site", zap.Error(err), zap.String("address", address))
		return nil, NoticeNone, fmt.Errorf("failed to save %s: %w", address, err)
	}

	s.mu.Lock()
	// The site may have been deleted while the save was in flight; the
	// write already happened, but local state must not resurrect it.
	if _, still := s.sites[address]; still {
		s.sites[address] = site
	}
	s.mu.Unlock()

	notice := s.noticeFor(prevClone, site)
	if notice != NoticeNone {
		s.logr.Info("coordinator notice", zap.String("address", address), zap.String("notice", string(notice)))
	}
	return site.Clone(), notice, nil
}

// noticeFor evaluates the notification rule over an edit diff. Apartment
// edits are judged room by room; added wins over removed.
func (s *MarkerService) noticeFor(prev, next *models.Site) Notice {
	if next.IsApartment {
		var prevRooms, nextRooms []models.Room
		if prev.ApartmentDetail != nil {
			prevRooms = prev.ApartmentDetail.Rooms
		}
		if next.ApartmentDetail != nil {
			nextRooms = next.ApartmentDetail.Rooms
		}
		return s.rule.EvaluateRooms(prevRooms, nextRooms)
	}
	if prev.Language == next.Language && prev.Memo == next.Memo {
		return NoticeNone
	}
	return s.rule.Evaluate(prev.Language, next.Language, next.Memo)
}

// Delete removes a site remotely and locally. Deleting an already-absent
// document is a store-level no-op, so replays are harmless.
func (s *MarkerService) Delete(ctx context.Context, address string) error {
	s.mu.RLock()
	_, ok := s.sites[address]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("site %s not found", address)
	}

	if err := s.store.Delete(ctx, address); err != nil {
		s.logr.Error("failed to delete site", zap.Error(err), zap.String("address", address))
		return fmt.Errorf("failed to delete %s: %w", address, err)
	}

	s.mu.Lock()
	delete(s.sites, address)
	delete(s.visible, address)
	s.mu.Unlock()
	return nil
}

// LoadAll bulk-fetches the whole namespace and rebuilds the site map from
// scratch. Boundary and settings documents share the namespace and are
// skipped by name; records without a usable position are dropped.
func (s *MarkerService) LoadAll(ctx context.Context) error {
	docs, err := s.store.LoadByPrefix(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to load sites: %w", err)
	}

	loaded := make(map[string]*models.Site, len(docs))
	for _, doc := range docs {
		if strings.HasPrefix(doc.Name, s.boundaryPrefix) || strings.HasPrefix(doc.Name, s.settingsPrefix) {
			continue
		}
		var site models.Site
		if err := json.Unmarshal(doc.Data, &site); err != nil {
			s.logr.Warn("skipping unreadable site document", zap.String("name", doc.Name), zap.Error(err))
			continue
		}
		if site.Position == nil {
			s.logr.Warn("skipping site without position", zap.String("name", doc.Name))
			continue
		}
		if site.Address == "" {
			site.Address = doc.Name
		}
		if site.Status == "" {
			site.Status = models.StatusUnvisited
		}
		if site.Language == "" {
			site.Language = models.LanguageNone
		}
		loaded[site.Address] = &site
	}

	s.mu.Lock()
	s.sites = loaded
	s.rebuildVisibleLocked()
	s.mu.Unlock()
	s.logr.Info("sites loaded", zap.Int("count", len(loaded)))
	return nil
}

// FilterByAreas applies an area filter: nil or empty shows every site,
// otherwise a site is visible iff its position falls inside at least one
// of the named areas. The visible set is rebuilt wholesale on every call.
func (s *MarkerService) FilterByAreas(areaNumbers []string) {
	cleaned := make([]string, 0, len(areaNumbers))
	for _, a := range areaNumbers {
		if a = strings.TrimSpace(a); a != "" {
			cleaned = append(cleaned, a)
		}
	}
	s.mu.Lock()
	s.areaFilter = cleaned
	s.rebuildVisibleLocked()
	s.mu.Unlock()
}

func (s *MarkerService) rebuildVisibleLocked() {
	s.visible = make(map[string]struct{}, len(s.sites))
	if len(s.areaFilter) == 0 {
		for addr := range s.sites {
			s.visible[addr] = struct{}{}
		}
		return
	}

	rings := make([][]geo.Point, 0, len(s.areaFilter))
	for _, ring := range s.boundaries.Rings(s.areaFilter) {
		rings = append(rings, ring)
	}
	for addr, site := range s.sites {
		pt := geo.Point{Lng: site.Position.Lng, Lat: site.Position.Lat}
		if geo.PointInAnyRing(pt, rings) {
			s.visible[addr] = struct{}{}
		}
	}
}

// VisibleSites returns the sites passing the current area filter, sorted
// by address.
func (s *MarkerService) VisibleSites() []*models.Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Site, 0, len(s.visible))
	for addr := range s.visible {
		out = append(out, s.sites[addr].Clone())
	}
	sortSites(out)
	return out
}

// Sites returns every persisted site regardless of filter.
func (s *MarkerService) Sites() []*models.Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site.Clone())
	}
	sortSites(out)
	return out
}

// Get returns one site by address, or nil.
func (s *MarkerService) Get(address string) *models.Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sites[address].Clone()
}

// StatusCounts tallies sites per status, optionally scoped to areas.
// Apartment buildings count their rooms' latest-column statuses instead
// of the forced site-level default.
func (s *MarkerService) StatusCounts(areaNumbers []string) map[models.Status]int {
	cleaned := make([]string, 0, len(areaNumbers))
	for _, num := range areaNumbers {
		if num = strings.TrimSpace(num); num != "" {
			cleaned = append(cleaned, num)
		}
	}

	var rings [][]geo.Point
	if len(cleaned) > 0 {
		for _, ring := range s.boundaries.Rings(cleaned) {
			rings = append(rings, ring)
		}
	}

	counts := map[models.Status]int{
		models.StatusUnvisited: 0,
		models.StatusVisited:   0,
		models.StatusAbsent:    0,
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, site := range s.sites {
		if len(cleaned) > 0 {
			pt := geo.Point{Lng: site.Position.Lng, Lat: site.Position.Lat}
			if !geo.PointInAnyRing(pt, rings) {
				continue
			}
		}
		if site.IsApartment && site.ApartmentDetail != nil {
			for _, room := range site.ApartmentDetail.Rooms {
				counts[latestRoomStatus(room)]++
			}
			continue
		}
		counts[site.Status]++
	}
	return counts
}

// latestRoomStatus is the room's most recent visit state: the last
// status column, since new date columns are appended as visits happen.
func latestRoomStatus(room models.Room) models.Status {
	if len(room.StatusPerColumn) == 0 {
		return models.StatusUnvisited
	}
	st := room.StatusPerColumn[len(room.StatusPerColumn)-1]
	if !models.ValidStatus(st) {
		return models.StatusUnvisited
	}
	return st
}

// ResetStatusInAreas forces every non-UNVISITED site inside the given
// areas back to UNVISITED. Saves fan out concurrently and the call waits
// for every one to settle; one failure never stops the rest.
func (s *MarkerService) ResetStatusInAreas(ctx context.Context, areaNumbers []string) error {
	if len(areaNumbers) == 0 {
		return fmt.Errorf("no areas selected")
	}
	rings := make([][]geo.Point, 0, len(areaNumbers))
	for _, ring := range s.boundaries.Rings(areaNumbers) {
		rings = append(rings, ring)
	}
	if len(rings) == 0 {
		return fmt.Errorf("no matching areas")
	}

	now := time.Now().UTC().Format(time.RFC3339)

	s.mu.RLock()
	var targets []*models.Site
	for _, site := range s.sites {
		if site.Status == models.StatusUnvisited {
			continue
		}
		pt := geo.Point{Lng: site.Position.Lng, Lat: site.Position.Lat}
		if geo.PointInAnyRing(pt, rings) {
			reset := site.Clone()
			reset.Status = models.StatusUnvisited
			reset.UpdatedAt = now
			targets = append(targets, reset)
		}
	}
	s.mu.RUnlock()

	var (
		g        errgroup.Group
		failedMu sync.Mutex
		failed   int
	)
	for _, reset := range targets {
		reset := reset
		g.Go(func() error {
			if err := s.store.Save(ctx, reset.Address, reset); err != nil {
				s.logr.Error("failed to reset site", zap.Error(err), zap.String("address", reset.Address))
				failedMu.Lock()
				failed++
				failedMu.Unlock()
				return err
			}
			s.mu.Lock()
			// Skip sites deleted while the save was in flight.
			if _, still := s.sites[reset.Address]; still {
				s.sites[reset.Address] = reset
			}
			s.mu.Unlock()
			return nil
		})
	}

	// Wait for every save to settle before reporting anything.
	if err := g.Wait(); err != nil {
		return fmt.Errorf("%d of %d sites failed to reset: %w", failed, len(targets), err)
	}
	s.logr.Info("statuses reset", zap.Int("count", len(targets)), zap.Strings("areas", areaNumbers))
	return nil
}
