package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"canvass-bknd/internal/store"

	"go.uber.org/zap"
)

// SettingsService keeps one JSON bag of preferences per identity. Saves
// merge into what is already stored (unrelated keys survive) and failures
// are logged, never surfaced: settings are best-effort by design.
type SettingsService struct {
	store  store.Store
	prefix string
	logr   *zap.Logger

	mu    sync.Mutex
	cache map[string]map[string]json.RawMessage // identity key -> settings
}

func NewSettingsService(st store.Store, settingsPrefix string, logr *zap.Logger) *SettingsService {
	return &SettingsService{
		store:  st,
		prefix: settingsPrefix,
		logr:   logr,
		cache:  make(map[string]map[string]json.RawMessage),
	}
}

var identitySanitizer = strings.NewReplacer("@", "_", ".", "_")

// settingsKey derives the document name from the identity's email.
func (s *SettingsService) settingsKey(email string) string {
	return s.prefix + identitySanitizer.Replace(email)
}

// Load fetches the settings bag for an identity. It never fails: a
// missing identity, a missing document or any store error all come back
// as an empty bag.
func (s *SettingsService) Load(ctx context.Context, email string) map[string]json.RawMessage {
	if email == "" {
		return map[string]json.RawMessage{}
	}
	key := s.settingsKey(email)

	// Exact-match fetch: the prefix already names the one file we want.
	docs, err := s.store.LoadByPrefix(ctx, key+".json")
	if err != nil {
		s.logr.Warn("failed to load settings", zap.Error(err), zap.String("key", key))
		return map[string]json.RawMessage{}
	}
	if len(docs) == 0 {
		return map[string]json.RawMessage{}
	}

	settings := map[string]json.RawMessage{}
	if err := json.Unmarshal(docs[0].Data, &settings); err != nil {
		s.logr.Warn("failed to parse settings", zap.Error(err), zap.String("key", key))
		return map[string]json.RawMessage{}
	}

	s.mu.Lock()
	s.cache[key] = cloneSettings(settings)
	s.mu.Unlock()
	return settings
}

// Save shallow-merges partial into the identity's settings and persists
// the merged whole. Unknown keys are kept as-is; the bag is open-ended.
// Failures are logged and swallowed.
func (s *SettingsService) Save(ctx context.Context, email string, partial map[string]json.RawMessage) {
	if email == "" {
		return
	}
	key := s.settingsKey(email)

	s.mu.Lock()
	current, ok := s.cache[key]
	if ok {
		current = cloneSettings(current)
	}
	s.mu.Unlock()

	if !ok {
		current = s.Load(ctx, email)
	}
	for k, v := range partial {
		current[k] = v
	}

	if err := s.store.Save(ctx, key, current); err != nil {
		s.logr.Warn("failed to save settings", zap.Error(err), zap.String("key", key))
		return
	}

	s.mu.Lock()
	s.cache[key] = cloneSettings(current)
	s.mu.Unlock()
}

func cloneSettings(in map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}
