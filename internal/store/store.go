// Package store is the remote document store client. Every entity,
// boundary and settings record is one JSON document in a single shared
// namespace; documents are wholly replaced on save and the store offers no
// transactions, so concurrent writers to the same name race and the last
// write wins.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

const ext = ".json"

// ErrUnauthorized is returned when the backend rejects the credential.
// Callers are expected to force a re-authentication when they see it.
var ErrUnauthorized = errors.New("store: unauthorized")

// Document is one named JSON document.
type Document struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// Store is the document store contract.
//
// Save is an upsert: probe for an existing document, overwrite in place
// when found, create otherwise. Load returns (nil, nil) for a missing
// document. Delete of a missing document is a no-op. LoadByPrefix with an
// empty prefix fetches every document in the namespace; a prefix that
// already ends in ".json" is an exact-name fetch. All four are safe to
// replay, which the offline retry queue relies on.
type Store interface {
	Save(ctx context.Context, name string, data any) error
	Load(ctx context.Context, name string) (json.RawMessage, error)
	Delete(ctx context.Context, name string) error
	LoadByPrefix(ctx context.Context, prefix string) ([]Document, error)
}

// fileName maps a bare document name to its stored filename.
func fileName(name string) string {
	return name + ext
}

// bareName strips the stored extension.
func bareName(file string) string {
	return strings.TrimSuffix(file, ext)
}

// prefixMatch classifies a LoadByPrefix argument: a prefix ending in the
// extension selects exactly one file, anything else is a name prefix.
func prefixMatch(prefix string) (exact string, ok bool) {
	if strings.HasSuffix(prefix, ext) {
		return prefix, true
	}
	return "", false
}
