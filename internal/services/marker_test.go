package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"canvass-bknd/internal/geo"
	"canvass-bknd/internal/models"
	"canvass-bknd/internal/store"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGeocoder struct {
	addr string
	err  error
}

func (g *fakeGeocoder) Reverse(ctx context.Context, lat, lng float64) (string, error) {
	return g.addr, g.err
}

func newTestServices(t *testing.T) (*MarkerService, *BoundaryService, *store.MemStore) {
	t.Helper()
	st := store.NewMemStore()
	logr := zap.NewNop()
	boundaries := NewBoundaryService(st, "houseArea", logr)
	markers := NewMarkerService(
		st,
		boundaries,
		&fakeGeocoder{addr: "suggested address"},
		NewNotifyRule([]string{"english", "interpreter", "sign language"}),
		"houseArea",
		"settings_",
		logr,
	)
	return markers, boundaries, st
}

func mustCreateArea(t *testing.T, boundaries *BoundaryService, areaNumber string, ring []geo.Point) {
	t.Helper()
	_, err := boundaries.Create(context.Background(), areaNumber, ring)
	require.NoError(t, err)
}

var ringA = []geo.Point{{Lng: 0, Lat: 0}, {Lng: 10, Lat: 0}, {Lng: 10, Lat: 10}, {Lng: 0, Lat: 10}}
var ringB = []geo.Point{{Lng: 20, Lat: 20}, {Lng: 30, Lat: 20}, {Lng: 30, Lat: 30}, {Lng: 20, Lat: 30}}

func commitSite(t *testing.T, m *MarkerService, address string, pos models.LatLng, form models.SiteForm) {
	t.Helper()
	p := m.CreateProvisional(pos)
	form.Address = address
	_, err := m.CommitNew(context.Background(), p.LocalID, form)
	require.NoError(t, err)
}

func TestCommitNew_PromotesProvisional(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestServices(t)

	p := m.CreateProvisional(models.LatLng{Lat: 1, Lng: 1})
	require.NotNil(t, m.GetProvisional(p.LocalID))

	site, err := m.CommitNew(ctx, p.LocalID, models.SiteForm{
		Address: "1-2-3 Example St",
		Status:  models.StatusVisited,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusVisited, site.Status)

	// Promotion consumed the provisional and persisted the document.
	require.Nil(t, m.GetProvisional(p.LocalID))
	require.NotNil(t, m.Get("1-2-3 Example St"))
	raw, err := st.Load(ctx, "1-2-3 Example St")
	require.NoError(t, err)
	require.NotNil(t, raw)
}

func TestCommitNew_EmptyAddressIsValidationError(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestServices(t)

	p := m.CreateProvisional(models.LatLng{Lat: 1, Lng: 1})
	_, err := m.CommitNew(ctx, p.LocalID, models.SiteForm{Address: "   "})
	require.Error(t, err)

	// Validation failures mutate nothing: the provisional survives and
	// no remote call was made.
	require.NotNil(t, m.GetProvisional(p.LocalID))
	require.Equal(t, 0, st.Len())
}

func TestCommitNew_SaveFailureRollsBackCompletely(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestServices(t)

	p := m.CreateProvisional(models.LatLng{Lat: 1, Lng: 1})
	st.SaveErr = errors.New("network down")

	_, err := m.CommitNew(ctx, p.LocalID, models.SiteForm{Address: "A"})
	require.Error(t, err)

	// No orphaned state: neither the provisional nor the address exists.
	require.Nil(t, m.GetProvisional(p.LocalID))
	require.Nil(t, m.Get("A"))
	require.Empty(t, m.Sites())
}

func TestCommitNew_ApartmentForcing(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestServices(t)

	commitSite(t, m, "Sunrise Heights", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{
		Status:      models.StatusVisited,
		Language:    models.LanguageEnglish,
		IsApartment: true,
	})

	raw, err := st.Load(ctx, "Sunrise Heights")
	require.NoError(t, err)
	var persisted models.Site
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Equal(t, models.StatusUnvisited, persisted.Status)
	require.Equal(t, models.LanguageNone, persisted.Language)
}

func TestSaveEdit_ApartmentForcing(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestServices(t)
	commitSite(t, m, "Sunrise Heights", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{IsApartment: true})

	// Whatever status/language the edit form submits, an apartment
	// building keeps the forced site-level defaults.
	site, _, err := m.SaveEdit(ctx, "Sunrise Heights", models.SiteForm{
		Status:      models.StatusVisited,
		Language:    models.LanguageKorean,
		IsApartment: true,
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusUnvisited, site.Status)
	require.Equal(t, models.LanguageNone, site.Language)

	raw, err := st.Load(ctx, "Sunrise Heights")
	require.NoError(t, err)
	var persisted models.Site
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Equal(t, models.StatusUnvisited, persisted.Status)
	require.Equal(t, models.LanguageNone, persisted.Language)
}

func TestCancelNew_NoRemoteCall(t *testing.T) {
	m, _, st := newTestServices(t)
	p := m.CreateProvisional(models.LatLng{Lat: 1, Lng: 1})
	m.CancelNew(p.LocalID)
	require.Nil(t, m.GetProvisional(p.LocalID))
	require.Equal(t, 0, st.Len())
}

func TestCreateProvisional_GeocodeSuggestion(t *testing.T) {
	m, _, _ := newTestServices(t)
	p := m.CreateProvisional(models.LatLng{Lat: 35.0, Lng: 139.0})

	require.Eventually(t, func() bool {
		cur := m.GetProvisional(p.LocalID)
		return cur != nil && cur.SuggestedAddress == "suggested address"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateProvisional_GeocodeFailurePlaceholder(t *testing.T) {
	st := store.NewMemStore()
	logr := zap.NewNop()
	boundaries := NewBoundaryService(st, "houseArea", logr)
	m := NewMarkerService(st, boundaries, &fakeGeocoder{err: errors.New("unreachable")},
		NewNotifyRule(nil), "houseArea", "settings_", logr)

	p := m.CreateProvisional(models.LatLng{Lat: 1, Lng: 1})
	require.Eventually(t, func() bool {
		cur := m.GetProvisional(p.LocalID)
		return cur != nil && cur.SuggestedAddress != ""
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "(address lookup failed)", m.GetProvisional(p.LocalID).SuggestedAddress)
}

func TestSaveEdit_MergePreservesApartmentDetail(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestServices(t)

	detail := &models.ApartmentDetail{
		DateColumns: []string{"2026-08-01"},
		Rooms: []models.Room{
			{RoomNumber: "101", Language: models.LanguageNone, StatusPerColumn: []models.Status{models.StatusVisited}},
		},
	}
	commitSite(t, m, "Sunrise Heights", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{
		IsApartment:     true,
		ApartmentDetail: detail,
	})

	// An edit form without room data must not drop the stored rooms.
	site, _, err := m.SaveEdit(ctx, "Sunrise Heights", models.SiteForm{
		Memo:        "gate code 1234",
		IsApartment: true,
	})
	require.NoError(t, err)
	require.NotNil(t, site.ApartmentDetail)
	require.Len(t, site.ApartmentDetail.Rooms, 1)
	require.Equal(t, "gate code 1234", site.Memo)
	require.NotEmpty(t, site.UpdatedAt)
}

func TestSaveEdit_UnknownSite(t *testing.T) {
	m, _, _ := newTestServices(t)
	_, _, err := m.SaveEdit(context.Background(), "nowhere", models.SiteForm{})
	require.Error(t, err)
}

func TestSaveEdit_NoticeOnLanguageAdded(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestServices(t)
	commitSite(t, m, "X", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{})

	_, notice, err := m.SaveEdit(ctx, "X", models.SiteForm{Language: models.LanguageEnglish})
	require.NoError(t, err)
	require.Equal(t, NoticeAdded, notice)

	// And back to NONE raises the removed notice.
	_, notice, err = m.SaveEdit(ctx, "X", models.SiteForm{Language: models.LanguageNone})
	require.NoError(t, err)
	require.Equal(t, NoticeRemoved, notice)

	// An edit touching neither language nor memo is silent.
	_, notice, err = m.SaveEdit(ctx, "X", models.SiteForm{Name: "renamed"})
	require.NoError(t, err)
	require.Equal(t, NoticeNone, notice)
}

func TestDelete_RemovesRemoteAndLocal(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestServices(t)
	commitSite(t, m, "X", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{})

	require.NoError(t, m.Delete(ctx, "X"))
	require.Nil(t, m.Get("X"))
	raw, err := st.Load(ctx, "X")
	require.NoError(t, err)
	require.Nil(t, raw)

	// A second delete is an error at the manager level (the site is no
	// longer known), but the store itself would have been a no-op.
	require.Error(t, m.Delete(ctx, "X"))
}

func TestLoadAll_RebuildsAndSkipsForeignDocuments(t *testing.T) {
	ctx := context.Background()
	m, boundaries, st := newTestServices(t)

	mustCreateArea(t, boundaries, "7", ringA)
	require.NoError(t, st.Save(ctx, "settings_user_example_com", map[string]int{"panelHeight": 200}))
	require.NoError(t, st.Save(ctx, "1 Main St", &models.Site{
		Address:  "1 Main St",
		Position: &models.LatLng{Lat: 1, Lng: 1},
		Status:   models.StatusVisited,
		Language: models.LanguageNone,
	}))
	// A record without a position must be skipped, not crash the load.
	require.NoError(t, st.Save(ctx, "broken", map[string]string{"address": "broken"}))

	require.NoError(t, m.LoadAll(ctx))
	sites := m.Sites()
	require.Len(t, sites, 1)
	require.Equal(t, "1 Main St", sites[0].Address)
}

func TestLoadAll_ReplacesNotMerges(t *testing.T) {
	ctx := context.Background()
	m, _, st := newTestServices(t)
	commitSite(t, m, "Old", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{})

	// Wipe the remote store behind the manager's back; a reload must
	// drop the stale entry rather than merge around it.
	require.NoError(t, st.Delete(ctx, "Old"))
	require.NoError(t, m.LoadAll(ctx))
	require.Empty(t, m.Sites())
}

func TestFilterByAreas(t *testing.T) {
	m, boundaries, _ := newTestServices(t)
	mustCreateArea(t, boundaries, "1", ringA)
	mustCreateArea(t, boundaries, "2", ringB)

	commitSite(t, m, "inside A", models.LatLng{Lat: 5, Lng: 5}, models.SiteForm{})
	commitSite(t, m, "inside B", models.LatLng{Lat: 25, Lng: 25}, models.SiteForm{})
	commitSite(t, m, "outside", models.LatLng{Lat: 50, Lng: 50}, models.SiteForm{})

	m.FilterByAreas([]string{"1"})
	visible := m.VisibleSites()
	require.Len(t, visible, 1)
	require.Equal(t, "inside A", visible[0].Address)

	m.FilterByAreas([]string{"1", "2"})
	require.Len(t, m.VisibleSites(), 2)

	// nil and empty both mean "show all".
	m.FilterByAreas(nil)
	require.Len(t, m.VisibleSites(), 3)
	m.FilterByAreas([]string{"", "  "})
	require.Len(t, m.VisibleSites(), 3)
}

func TestResetStatusInAreas(t *testing.T) {
	ctx := context.Background()
	m, boundaries, st := newTestServices(t)
	mustCreateArea(t, boundaries, "1", ringA)

	commitSite(t, m, "visited inside", models.LatLng{Lat: 5, Lng: 5}, models.SiteForm{Status: models.StatusVisited})
	commitSite(t, m, "absent inside", models.LatLng{Lat: 6, Lng: 6}, models.SiteForm{Status: models.StatusAbsent})
	commitSite(t, m, "already unvisited", models.LatLng{Lat: 7, Lng: 7}, models.SiteForm{Status: models.StatusUnvisited})
	commitSite(t, m, "visited outside", models.LatLng{Lat: 50, Lng: 50}, models.SiteForm{Status: models.StatusVisited})

	require.NoError(t, m.ResetStatusInAreas(ctx, []string{"1"}))

	require.Equal(t, models.StatusUnvisited, m.Get("visited inside").Status)
	require.Equal(t, models.StatusUnvisited, m.Get("absent inside").Status)
	require.Equal(t, models.StatusUnvisited, m.Get("already unvisited").Status)
	// Outside the area: untouched.
	require.Equal(t, models.StatusVisited, m.Get("visited outside").Status)

	// The persisted documents agree with memory.
	raw, err := st.Load(ctx, "visited inside")
	require.NoError(t, err)
	var persisted models.Site
	require.NoError(t, json.Unmarshal(raw, &persisted))
	require.Equal(t, models.StatusUnvisited, persisted.Status)
}

func TestResetStatusInAreas_Validation(t *testing.T) {
	m, _, _ := newTestServices(t)
	require.Error(t, m.ResetStatusInAreas(context.Background(), nil))
	require.Error(t, m.ResetStatusInAreas(context.Background(), []string{"unknown"}))
}

func TestResetStatusInAreas_PartialFailureStillAttemptsAll(t *testing.T) {
	ctx := context.Background()
	m, boundaries, st := newTestServices(t)
	mustCreateArea(t, boundaries, "1", ringA)
	commitSite(t, m, "a", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{Status: models.StatusVisited})
	commitSite(t, m, "b", models.LatLng{Lat: 2, Lng: 2}, models.SiteForm{Status: models.StatusVisited})

	st.SaveErr = errors.New("flaky")
	err := m.ResetStatusInAreas(ctx, []string{"1"})
	require.Error(t, err)

	// Local state was not flipped for failed saves.
	require.Equal(t, models.StatusVisited, m.Get("a").Status)
	require.Equal(t, models.StatusVisited, m.Get("b").Status)
}

func TestStatusCounts(t *testing.T) {
	m, boundaries, _ := newTestServices(t)
	mustCreateArea(t, boundaries, "1", ringA)

	commitSite(t, m, "v", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{Status: models.StatusVisited})
	commitSite(t, m, "u", models.LatLng{Lat: 2, Lng: 2}, models.SiteForm{Status: models.StatusUnvisited})
	commitSite(t, m, "apt", models.LatLng{Lat: 3, Lng: 3}, models.SiteForm{
		IsApartment: true,
		ApartmentDetail: &models.ApartmentDetail{
			DateColumns: []string{"2026-08-01"},
			Rooms: []models.Room{
				{RoomNumber: "101", StatusPerColumn: []models.Status{models.StatusVisited}},
				{RoomNumber: "102", StatusPerColumn: []models.Status{models.StatusAbsent}},
			},
		},
	})
	commitSite(t, m, "far", models.LatLng{Lat: 50, Lng: 50}, models.SiteForm{Status: models.StatusVisited})

	counts := m.StatusCounts([]string{"1"})
	require.Equal(t, 2, counts[models.StatusVisited]) // "v" + room 101
	require.Equal(t, 1, counts[models.StatusUnvisited])
	require.Equal(t, 1, counts[models.StatusAbsent])

	all := m.StatusCounts(nil)
	require.Equal(t, 3, all[models.StatusVisited])
}
