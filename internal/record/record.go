// Package record defines the canonical directory record and the remote
// payload shape it is synchronized from.
package record

import (
	"fmt"
	"strings"
)

// Record is a single directory entry as stored locally.
//
// Exactly one Record exists per ID in the store at any time. A refresh
// that carries the same ID replaces every field (full overwrite, no
// field-level merge).
type Record struct {
	// ID is the stable unique identifier assigned by the remote source.
	ID int64 `json:"id"`

	// Name is the display name. Required; also the sort key for queries.
	Name string `json:"name"`

	// Email and Phone are searchable contact fields. May be empty.
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// RemoteRecord mirrors Record field-for-field but carries whatever the
// remote endpoint actually sent. It must pass Validate before being
// admitted into the store; malformed entries are skipped by the syncer
// rather than failing the whole batch.
type RemoteRecord struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Validate checks that the remote entry can become a well-formed Record.
func (r *RemoteRecord) Validate() error {
	if r.ID <= 0 {
		return fmt.Errorf("id must be positive (got %d)", r.ID)
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("name is required for record %d", r.ID)
	}
	return nil
}

// ToRecord coerces the remote entry into the canonical local form,
// trimming surrounding whitespace from the text fields.
func (r *RemoteRecord) ToRecord() Record {
	return Record{
		ID:    r.ID,
		Name:  strings.TrimSpace(r.Name),
		Email: strings.TrimSpace(r.Email),
		Phone: strings.TrimSpace(r.Phone),
	}
}
