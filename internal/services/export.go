package services

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"

	"canvass-bknd/internal/geo"
	"canvass-bknd/internal/models"
)

// ExportFilters narrows the export: empty fields match everything.
type ExportFilters struct {
	AreaNumbers []string
	Statuses    []models.Status
	Language    models.Language
	Keyword     string
}

// ExportRow is one line of the canvassing export. Apartment buildings
// explode into one row per matching room.
type ExportRow struct {
	AreaNumber string `json:"areaNumber"`
	Address    string `json:"address"`
	Label      string `json:"label"`
	Status     string `json:"status"`
	Language   string `json:"language"`
	Memo       string `json:"memo"`
}

// GenerateRows filters the current sites into export rows: area
// containment first, then per-site (or per-room) status/language/keyword
// matching. Rows come back sorted by (area number, address) ascending.
//
// A site inside several overlapping areas is attributed to whichever
// containing area the scan meets first; with overlapping boundaries the
// attribution is not guaranteed stable between calls.
func (s *MarkerService) GenerateRows(filters ExportFilters) []ExportRow {
	boundaries := s.boundaries.Boundaries()

	areaNumbers := make([]string, 0, len(filters.AreaNumbers))
	for _, num := range filters.AreaNumbers {
		if num = strings.TrimSpace(num); num != "" {
			areaNumbers = append(areaNumbers, num)
		}
	}

	var scopeRings [][]geo.Point
	if len(areaNumbers) > 0 {
		for _, ring := range s.boundaries.Rings(areaNumbers) {
			scopeRings = append(scopeRings, ring)
		}
	}

	statusSet := make(map[models.Status]struct{}, len(filters.Statuses))
	for _, st := range filters.Statuses {
		statusSet[st] = struct{}{}
	}
	keyword := strings.ToLower(strings.TrimSpace(filters.Keyword))

	rows := []ExportRow{}
	for _, site := range s.Sites() {
		pt := geo.Point{Lng: site.Position.Lng, Lat: site.Position.Lat}
		if len(areaNumbers) > 0 && !geo.PointInAnyRing(pt, scopeRings) {
			continue
		}
		areaNumber := containingArea(pt, boundaries)

		if site.IsApartment {
			rows = append(rows, apartmentRows(site, areaNumber, statusSet, filters.Language, keyword)...)
			continue
		}

		if !statusMatches(site.Status, statusSet) {
			continue
		}
		if filters.Language != "" && site.Language != filters.Language {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(site.Memo), keyword) {
			continue
		}
		rows = append(rows, ExportRow{
			AreaNumber: areaNumber,
			Address:    site.Address,
			Label:      site.Name,
			Status:     string(site.Status),
			Language:   string(site.Language),
			Memo:       site.Memo,
		})
	}

	// Stable so rooms of one building keep their stored order.
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].AreaNumber != rows[j].AreaNumber {
			return rows[i].AreaNumber < rows[j].AreaNumber
		}
		return rows[i].Address < rows[j].Address
	})
	return rows
}

// apartmentRows explodes an apartment building into one row per room
// matching the filters. A room matches a status filter when any of its
// date columns carries one of the wanted statuses; the row's own status
// is the latest column's value.
func apartmentRows(site *models.Site, areaNumber string, statusSet map[models.Status]struct{}, language models.Language, keyword string) []ExportRow {
	if site.ApartmentDetail == nil {
		return nil
	}
	var rows []ExportRow
	for _, room := range site.ApartmentDetail.Rooms {
		if language != "" && room.Language != language {
			continue
		}
		if keyword != "" && !strings.Contains(strings.ToLower(room.Memo), keyword) {
			continue
		}
		if len(statusSet) > 0 && !anyColumnMatches(room, statusSet) {
			continue
		}
		label := strings.TrimSpace(site.Name)
		if label == "" {
			label = site.Address
		}
		rows = append(rows, ExportRow{
			AreaNumber: areaNumber,
			Address:    site.Address,
			Label:      fmt.Sprintf("%s %s", label, room.RoomNumber),
			Status:     string(latestRoomStatus(room)),
			Language:   string(room.Language),
			Memo:       room.Memo,
		})
	}
	return rows
}

func anyColumnMatches(room models.Room, statusSet map[models.Status]struct{}) bool {
	for _, st := range room.StatusPerColumn {
		if _, ok := statusSet[st]; ok {
			return true
		}
	}
	return false
}

func statusMatches(st models.Status, statusSet map[models.Status]struct{}) bool {
	if len(statusSet) == 0 {
		return true
	}
	_, ok := statusSet[st]
	return ok
}

// containingArea returns the area number of the first boundary containing
// pt, or "" when none does.
func containingArea(pt geo.Point, boundaries []*models.Boundary) string {
	for _, b := range boundaries {
		if geo.PointInRing(pt, b.Ring) {
			return b.AreaNumber
		}
	}
	return ""
}

// WriteCSV serializes rows with a UTF-8 BOM so spreadsheets pick up the
// encoding.
func WriteCSV(rows []ExportRow) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("\uFEFF")

	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"AreaNumber", "Address", "Name", "Status", "Language", "Memo"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := []string{row.AreaNumber, row.Address, row.Label, row.Status, row.Language, row.Memo}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sortSites orders sites by address ascending.
func sortSites(sites []*models.Site) {
	sort.Slice(sites, func(i, j int) bool { return sites[i].Address < sites[j].Address })
}
