package services

import (
	"bytes"
	"encoding/csv"
	"testing"

	"canvass-bknd/internal/models"

	"github.com/stretchr/testify/require"
)

func TestGenerateRows_StatusFilter(t *testing.T) {
	m, boundaries, _ := newTestServices(t)
	mustCreateArea(t, boundaries, "1", ringA)

	commitSite(t, m, "X", models.LatLng{Lat: 5, Lng: 5}, models.SiteForm{Status: models.StatusUnvisited})
	commitSite(t, m, "Y", models.LatLng{Lat: 6, Lng: 6}, models.SiteForm{Status: models.StatusVisited})

	rows := m.GenerateRows(ExportFilters{Statuses: []models.Status{models.StatusVisited}})
	require.Len(t, rows, 1)
	require.Equal(t, "Y", rows[0].Address)
	require.Equal(t, "1", rows[0].AreaNumber)
	require.Equal(t, string(models.StatusVisited), rows[0].Status)
}

func TestGenerateRows_AreaScopeAndAttribution(t *testing.T) {
	m, boundaries, _ := newTestServices(t)
	mustCreateArea(t, boundaries, "1", ringA)
	mustCreateArea(t, boundaries, "2", ringB)

	commitSite(t, m, "in one", models.LatLng{Lat: 5, Lng: 5}, models.SiteForm{})
	commitSite(t, m, "in two", models.LatLng{Lat: 25, Lng: 25}, models.SiteForm{})
	commitSite(t, m, "nowhere", models.LatLng{Lat: 50, Lng: 50}, models.SiteForm{})

	rows := m.GenerateRows(ExportFilters{AreaNumbers: []string{"2"}})
	require.Len(t, rows, 1)
	require.Equal(t, "in two", rows[0].Address)
	require.Equal(t, "2", rows[0].AreaNumber)

	// No area filter: everything exports, sites outside any boundary get
	// an empty area number and sort first.
	rows = m.GenerateRows(ExportFilters{})
	require.Len(t, rows, 3)
	require.Equal(t, "nowhere", rows[0].Address)
	require.Equal(t, "", rows[0].AreaNumber)
	require.Equal(t, "in one", rows[1].Address)
	require.Equal(t, "in two", rows[2].Address)
}

func TestGenerateRows_LanguageAndKeyword(t *testing.T) {
	m, _, _ := newTestServices(t)
	commitSite(t, m, "A", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{
		Language: models.LanguageEnglish, Memo: "prefers Mornings",
	})
	commitSite(t, m, "B", models.LatLng{Lat: 2, Lng: 2}, models.SiteForm{
		Language: models.LanguageChinese, Memo: "evenings only",
	})

	rows := m.GenerateRows(ExportFilters{Language: models.LanguageChinese})
	require.Len(t, rows, 1)
	require.Equal(t, "B", rows[0].Address)

	rows = m.GenerateRows(ExportFilters{Keyword: "mornings"})
	require.Len(t, rows, 1)
	require.Equal(t, "A", rows[0].Address)
}

func TestGenerateRows_ApartmentExplosion(t *testing.T) {
	m, _, _ := newTestServices(t)
	commitSite(t, m, "Sunrise Heights", models.LatLng{Lat: 1, Lng: 1}, models.SiteForm{
		Name:        "Sunrise",
		IsApartment: true,
		ApartmentDetail: &models.ApartmentDetail{
			DateColumns: []string{"2026-08-01", "2026-08-15"},
			Rooms: []models.Room{
				{RoomNumber: "101", Language: models.LanguageEnglish,
					StatusPerColumn: []models.Status{models.StatusAbsent, models.StatusVisited}},
				{RoomNumber: "102", Language: models.LanguageNone,
					StatusPerColumn: []models.Status{models.StatusUnvisited, models.StatusUnvisited}},
				{RoomNumber: "103", Language: models.LanguageNone,
					StatusPerColumn: []models.Status{models.StatusVisited, models.StatusAbsent}},
			},
		},
	})

	// No filters: one row per room, labelled "<name> <room>", the row
	// status being the latest date column's value.
	rows := m.GenerateRows(ExportFilters{})
	require.Len(t, rows, 3)
	require.Equal(t, "Sunrise 101", rows[0].Label)
	require.Equal(t, string(models.StatusVisited), rows[0].Status)
	require.Equal(t, string(models.StatusAbsent), rows[2].Status)

	// A status filter matches a room when any column carries it, but the
	// exported status is still the latest column.
	rows = m.GenerateRows(ExportFilters{Statuses: []models.Status{models.StatusAbsent}})
	require.Len(t, rows, 2)
	require.Equal(t, "Sunrise 101", rows[0].Label)
	require.Equal(t, string(models.StatusVisited), rows[0].Status)
	require.Equal(t, "Sunrise 103", rows[1].Label)

	// Room-level language filter.
	rows = m.GenerateRows(ExportFilters{Language: models.LanguageEnglish})
	require.Len(t, rows, 1)
	require.Equal(t, "Sunrise 101", rows[0].Label)
}

func TestWriteCSV(t *testing.T) {
	data, err := WriteCSV([]ExportRow{
		{AreaNumber: "1", Address: "X", Label: "house", Status: "VISITED", Language: "NONE", Memo: "has a dog, beware"},
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("\uFEFF")))

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, []byte("\uFEFF"))))
	records, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, []string{"AreaNumber", "Address", "Name", "Status", "Language", "Memo"}, records[0])
	require.Equal(t, "has a dog, beware", records[1][5])
}
