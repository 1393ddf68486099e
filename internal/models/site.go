package models

// Status is the visit state of a site (or of one apartment room on one
// visit date).
type Status string

const (
	StatusUnvisited Status = "UNVISITED"
	StatusVisited   Status = "VISITED"
	StatusAbsent    Status = "ABSENT"
)

// ValidStatus reports whether s is one of the known visit states.
func ValidStatus(s Status) bool {
	switch s {
	case StatusUnvisited, StatusVisited, StatusAbsent:
		return true
	}
	return false
}

// Language spoken at a site. The list is fixed; LanguageOther covers
// anything not on it and LanguageNone means no foreign language noted.
type Language string

const (
	LanguageNone       Language = "NONE"
	LanguageEnglish    Language = "English"
	LanguageChinese    Language = "Chinese"
	LanguageKorean     Language = "Korean"
	LanguageSpanish    Language = "Spanish"
	LanguagePortuguese Language = "Portuguese"
	LanguageTagalog    Language = "Tagalog"
	LanguageVietnamese Language = "Vietnamese"
	LanguageNepali     Language = "Nepali"
	LanguageSign       Language = "SignLanguage"
	LanguageOther      Language = "Other"
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Room is one apartment room. StatusPerColumn lines up index-for-index
// with the parent ApartmentDetail.DateColumns.
type Room struct {
	RoomNumber      string   `json:"roomNumber"`
	Language        Language `json:"language"`
	Memo            string   `json:"memo"`
	StatusPerColumn []Status `json:"statusPerColumn"`
}

// ApartmentDetail holds room-level visit state for an apartment building.
// DateColumns are visit-date labels; the persisted column order is
// whatever was last written, display sorting is the reader's business.
type ApartmentDetail struct {
	DateColumns []string `json:"dateColumns"`
	Rooms       []Room   `json:"rooms"`
}

// Site is one visit site. The address doubles as the document name in the
// remote store, so a Site has no separate identity field once persisted.
type Site struct {
	Address           string           `json:"address"`
	Name              string           `json:"name,omitempty"`
	Position          *LatLng          `json:"position"`
	Status            Status           `json:"status"`
	Memo              string           `json:"memo,omitempty"`
	HasCameraIntercom bool             `json:"hasCameraIntercom,omitempty"`
	Language          Language         `json:"language"`
	IsApartment       bool             `json:"isApartmentBuilding"`
	ApartmentDetail   *ApartmentDetail `json:"apartmentDetail,omitempty"`
	UpdatedAt         string           `json:"updatedAt,omitempty"`
}

// Clone returns a deep copy of the site.
func (s *Site) Clone() *Site {
	if s == nil {
		return nil
	}
	out := *s
	if s.Position != nil {
		pos := *s.Position
		out.Position = &pos
	}
	out.ApartmentDetail = s.ApartmentDetail.Clone()
	return &out
}

// Clone returns a deep copy of the apartment detail.
func (d *ApartmentDetail) Clone() *ApartmentDetail {
	if d == nil {
		return nil
	}
	out := &ApartmentDetail{
		DateColumns: append([]string(nil), d.DateColumns...),
		Rooms:       make([]Room, len(d.Rooms)),
	}
	for i, r := range d.Rooms {
		r.StatusPerColumn = append([]Status(nil), r.StatusPerColumn...)
		out.Rooms[i] = r
	}
	return out
}

// SiteForm carries the values submitted from a marker popup form. A nil
// ApartmentDetail means the form did not edit rooms and the stored detail
// must be preserved.
type SiteForm struct {
	Address           string           `json:"address"`
	Name              string           `json:"name"`
	Status            Status           `json:"status"`
	Memo              string           `json:"memo"`
	HasCameraIntercom bool             `json:"hasCameraIntercom"`
	Language          Language         `json:"language"`
	IsApartment       bool             `json:"isApartmentBuilding"`
	ApartmentDetail   *ApartmentDetail `json:"apartmentDetail,omitempty"`
}
