// Package archive uploads finished session transcripts to object storage.
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/ChaoticNebula5/Janmitra/internal/conversation"
	"github.com/ChaoticNebula5/Janmitra/internal/metrics"
)

var ErrNotConfigured = errors.New("archive: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")

// Store is an object store.
type Store interface {
	Upload(key, contentType string, data []byte) error
}

type Supabase struct {
	client *supabase.Client
	bucket string
}

func NewSupabase(url, serviceRoleKey, bucket string) (*Supabase, error) {
	if url == "" || serviceRoleKey == "" {
		return nil, ErrNotConfigured
	}
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("archive: supabase client: %w", err)
	}
	return &Supabase{client: client, bucket: bucket}, nil
}

func (s *Supabase) Upload(key, contentType string, data []byte) error {
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("archive: upload %s: %w", key, err)
	}
	return nil
}

// Transcript is the stored record of one session.
type Transcript struct {
	SessionID string                 `json:"session_id"`
	StartedAt time.Time              `json:"started_at"`
	EndedAt   time.Time              `json:"ended_at"`
	Messages  []conversation.Message `json:"messages"`
	Metrics   metrics.Summary        `json:"metrics"`
}

// Key is the object key of a session transcript.
func Key(sessionID string) string {
	return "sessions/" + sessionID + ".json"
}

// Save uploads t as JSON and returns its key.
func Save(store Store, t Transcript) (string, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	key := Key(t.SessionID)
	if err := store.Upload(key, "application/json", data); err != nil {
		return "", err
	}
	return key, nil
}
