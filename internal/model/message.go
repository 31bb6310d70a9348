package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Relevance is the tri-state relevance verdict stored on a message.
type Relevance string

const (
	RelevanceUnknown  Relevance = "unknown"
	RelevanceRelevant Relevance = "relevant"
	RelevanceFiltered Relevance = "filtered"
)

// Valid reports whether r is one of the known relevance values.
func (r Relevance) Valid() bool {
	switch r {
	case RelevanceUnknown, RelevanceRelevant, RelevanceFiltered:
		return true
	}
	return false
}

// Priority is the single persisted priority signal for a message.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Message is a locally cached inbox message together with everything the
// pipeline has derived from it.
type Message struct {
	// ID is the stable external identifier assigned by the mail source.
	ID string `json:"id"`

	// ThreadID groups messages belonging to the same conversation.
	ThreadID string `json:"thread_id"`

	SenderAddress string `json:"sender_address"`
	SenderName    string `json:"sender_display_name"`
	Subject       string `json:"subject"`
	BodyPlain     string `json:"body_plain"`
	BodyHTML      string `json:"body_html"`

	// ContentHash fingerprints subject and bodies so a re-fetched message
	// can be recognized as unchanged.
	ContentHash string `json:"content_hash"`

	// ReceivedAt is the source-provided timestamp used for ordering.
	ReceivedAt time.Time `json:"received_at"`

	// SyncedAt is the local time of the last pipeline pass.
	SyncedAt time.Time `json:"synced_at"`

	Relevance Relevance `json:"is_relevant"`

	// Rationale is the classifier's short explanation for Relevance.
	Rationale string `json:"rationale,omitempty"`

	Priority Priority `json:"priority"`

	// Summary is nil until the summarizer has produced a digest.
	Summary *string `json:"summary"`

	// DraftReply is nil until the drafter has produced a reply.
	DraftReply *string `json:"draft_reply"`

	// HasReply is set only after a confirmed send.
	HasReply bool `json:"has_reply"`

	State ProcessingState `json:"processing_state"`

	// LastError holds the failure that moved the message to StateErrored.
	LastError string `json:"last_error,omitempty"`
}

// Unchanged reports whether other carries the same content as m.
func (m *Message) Unchanged(other *Message) bool {
	return other != nil && m.ContentHash != "" &&
		m.ContentHash == other.ContentHash
}

// ContentHash returns the hex sha256 fingerprint of the fields that, when
// changed, require a message to be reprocessed.
func ContentHash(subject, bodyPlain, bodyHTML string) string {
	h := sha256.New()
	for _, part := range []string{subject, bodyPlain, bodyHTML} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
