package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// TokenSource supplies the bearer credential attached to every cloud store
// request. Invalidate is called on a 401 so the next caller is forced back
// through sign-in.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// StaticTokenSource wraps a fixed token, for server-to-server setups.
type StaticTokenSource struct {
	mu    sync.Mutex
	token string
}

func NewStaticTokenSource(token string) *StaticTokenSource {
	return &StaticTokenSource{token: token}
}

func (s *StaticTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrUnauthorized
	}
	return s.token, nil
}

func (s *StaticTokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// CloudStore talks to a files-over-HTTP document API: documents live in a
// single folder addressed by a well-known name. The folder id is resolved
// lazily and cached; when a cached id goes stale the operation re-resolves
// (creating the folder if needed) and retries once.
type CloudStore struct {
	base   string
	folder string
	client *http.Client
	tokens TokenSource

	mu       sync.Mutex
	folderID string
}

func NewCloudStore(baseURL, folder string, tokens TokenSource, client *http.Client) *CloudStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &CloudStore{
		base:   baseURL,
		folder: folder,
		client: client,
		tokens: tokens,
	}
}

// do sends one authenticated request. A 401 invalidates the token source
// and surfaces ErrUnauthorized; that side effect must never be swallowed.
func (s *CloudStore) do(ctx context.Context, method, u string, body []byte) (*http.Response, error) {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		s.tokens.Invalidate()
		return nil, ErrUnauthorized
	}
	return resp, nil
}

// resolveFolder returns the folder id, creating the folder when it does
// not exist yet. forceRefresh drops the cached id first.
func (s *CloudStore) resolveFolder(ctx context.Context, forceRefresh bool) (string, error) {
	s.mu.Lock()
	if forceRefresh {
		s.folderID = ""
	}
	if s.folderID != "" {
		id := s.folderID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	u := s.base + "/folders?name=" + url.QueryEscape(s.folder)
	resp, err := s.do(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var folder struct {
		ID string `json:"id"`
	}
	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(&folder); err != nil {
			return "", fmt.Errorf("decode folder lookup: %w", err)
		}
	case http.StatusNotFound:
		body, _ := json.Marshal(map[string]string{"name": s.folder})
		created, err := s.do(ctx, http.MethodPost, s.base+"/folders", body)
		if err != nil {
			return "", err
		}
		defer created.Body.Close()
		if created.StatusCode != http.StatusOK && created.StatusCode != http.StatusCreated {
			return "", fmt.Errorf("create folder %q: status %d", s.folder, created.StatusCode)
		}
		if err := json.NewDecoder(created.Body).Decode(&folder); err != nil {
			return "", fmt.Errorf("decode folder create: %w", err)
		}
	default:
		return "", fmt.Errorf("resolve folder %q: status %d", s.folder, resp.StatusCode)
	}

	s.mu.Lock()
	s.folderID = folder.ID
	s.mu.Unlock()
	return folder.ID, nil
}

// withFolder runs op against the resolved folder, retrying exactly once
// with a fresh folder id when the first attempt reports the folder gone.
func (s *CloudStore) withFolder(ctx context.Context, op func(folderID string) (*http.Response, bool, error)) (*http.Response, error) {
	id, err := s.resolveFolder(ctx, false)
	if err != nil {
		return nil, err
	}
	resp, stale, err := op(id)
	if err != nil {
		return nil, err
	}
	if !stale {
		return resp, nil
	}
	resp.Body.Close()
	id, err = s.resolveFolder(ctx, true)
	if err != nil {
		return nil, err
	}
	resp, _, err = op(id)
	return resp, err
}

func (s *CloudStore) fileURL(folderID, file string) string {
	return s.base + "/folders/" + url.PathEscape(folderID) + "/files/" + url.PathEscape(file)
}

func (s *CloudStore) Save(ctx context.Context, name string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal document %q: %w", name, err)
	}
	file := fileName(name)

	resp, err := s.withFolder(ctx, func(folderID string) (*http.Response, bool, error) {
		// Probe: update in place when the file exists, create otherwise.
		probe, err := s.do(ctx, http.MethodGet, s.fileURL(folderID, file), nil)
		if err != nil {
			return nil, false, err
		}
		exists := probe.StatusCode == http.StatusOK
		gone := probe.StatusCode == http.StatusGone
		probe.Body.Close()
		if gone {
			return probe, true, nil
		}

		if exists {
			return s.do3(ctx, http.MethodPut, s.fileURL(folderID, file), raw)
		}
		body, _ := json.Marshal(Document{Name: file, Data: raw})
		return s.do3(ctx, http.MethodPost, s.base+"/folders/"+url.PathEscape(folderID)+"/files", body)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("save document %q: status %d", name, resp.StatusCode)
	}
	return nil
}

// do3 adapts do to the withFolder op signature, flagging a stale folder.
func (s *CloudStore) do3(ctx context.Context, method, u string, body []byte) (*http.Response, bool, error) {
	resp, err := s.do(ctx, method, u, body)
	if err != nil {
		return nil, false, err
	}
	return resp, resp.StatusCode == http.StatusGone, nil
}

func (s *CloudStore) Load(ctx context.Context, name string) (json.RawMessage, error) {
	resp, err := s.withFolder(ctx, func(folderID string) (*http.Response, bool, error) {
		return s.do3(ctx, http.MethodGet, s.fileURL(folderID, fileName(name)), nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read document %q: %w", name, err)
		}
		return raw, nil
	case http.StatusNotFound:
		// Missing is not an error.
		return nil, nil
	default:
		return nil, fmt.Errorf("load document %q: status %d", name, resp.StatusCode)
	}
}

func (s *CloudStore) Delete(ctx context.Context, name string) error {
	resp, err := s.withFolder(ctx, func(folderID string) (*http.Response, bool, error) {
		return s.do3(ctx, http.MethodDelete, s.fileURL(folderID, fileName(name)), nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		// Deleting a missing document is a no-op.
		return nil
	default:
		return fmt.Errorf("delete document %q: status %d", name, resp.StatusCode)
	}
}

func (s *CloudStore) LoadByPrefix(ctx context.Context, prefix string) ([]Document, error) {
	if exact, ok := prefixMatch(prefix); ok {
		raw, err := s.Load(ctx, bareName(exact))
		if err != nil {
			return nil, err
		}
		if raw == nil {
			return nil, nil
		}
		return []Document{{Name: bareName(exact), Data: raw}}, nil
	}

	resp, err := s.withFolder(ctx, func(folderID string) (*http.Response, bool, error) {
		u := s.base + "/folders/" + url.PathEscape(folderID) + "/files?prefix=" + url.QueryEscape(prefix)
		return s.do3(ctx, http.MethodGet, u, nil)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load documents by prefix %q: status %d", prefix, resp.StatusCode)
	}

	var files []Document
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("decode document listing: %w", err)
	}
	for i := range files {
		files[i].Name = bareName(files[i].Name)
	}
	return files, nil
}
