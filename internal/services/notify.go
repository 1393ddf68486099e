package services

import (
	"strings"

	"canvass-bknd/internal/models"
)

// Notice is the coordinator notification decided by an edit.
type Notice string

const (
	NoticeNone    Notice = ""
	NoticeAdded   Notice = "LANGUAGE_INFO_ADDED"
	NoticeRemoved Notice = "LANGUAGE_INFO_REMOVED"
)

// NotifyRule decides when an edit should raise an "inform the area
// coordinator" notice. The trigger terms are configurable so the list can
// grow without touching this logic.
type NotifyRule struct {
	terms []string
}

func NewNotifyRule(terms []string) *NotifyRule {
	lowered := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			lowered = append(lowered, t)
		}
	}
	return &NotifyRule{terms: lowered}
}

// memoTriggers reports whether the memo mentions any trigger term.
func (r *NotifyRule) memoTriggers(memo string) bool {
	memo = strings.ToLower(memo)
	for _, t := range r.terms {
		if strings.Contains(memo, t) {
			return true
		}
	}
	return false
}

// Evaluate applies the rule to a single site's language/memo diff:
// language going from NONE to anything, or a trigger term in the new
// memo, raises the added notice; language going back to NONE with no
// trigger term raises the removed notice.
func (r *NotifyRule) Evaluate(prevLang, nextLang models.Language, nextMemo string) Notice {
	added := prevLang == models.LanguageNone && nextLang != models.LanguageNone
	if added || r.memoTriggers(nextMemo) {
		return NoticeAdded
	}
	if prevLang != models.LanguageNone && nextLang == models.LanguageNone {
		return NoticeRemoved
	}
	return NoticeNone
}

// EvaluateRooms applies the rule per room across an apartment edit,
// considering only rooms whose language or memo actually changed. A
// single added anywhere wins over any number of removeds.
func (r *NotifyRule) EvaluateRooms(prev, next []models.Room) Notice {
	prevByNumber := make(map[string]models.Room, len(prev))
	for _, room := range prev {
		prevByNumber[room.RoomNumber] = room
	}

	result := NoticeNone
	for _, room := range next {
		before, existed := prevByNumber[room.RoomNumber]
		if existed && before.Language == room.Language && before.Memo == room.Memo {
			continue
		}
		prevLang := models.LanguageNone
		if existed {
			prevLang = before.Language
		}
		switch r.Evaluate(prevLang, room.Language, room.Memo) {
		case NoticeAdded:
			return NoticeAdded
		case NoticeRemoved:
			result = NoticeRemoved
		}
	}
	return result
}
