// Package card defines the Card data model shared by every component of the
// display pipeline: the renderer that builds one, the artifact store that
// persists it, the study manager that indexes it, and the display server that
// broadcasts it.
package card

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the variant tag selecting a card's preview shape.
type Type string

const (
	Table    Type = "table"
	Markdown Type = "markdown"
	KeyValue Type = "keyvalue"
	Section  Type = "section"
	Plotly   Type = "plotly"
	Image    Type = "image"
	Decision Type = "decision"
	Agent    Type = "agent"
)

// ArtifactKind is the storage format backing a card's artifact reference.
type ArtifactKind string

const (
	ArtifactColumnar ArtifactKind = "columnar"
	ArtifactJSON     ArtifactKind = "json"
	ArtifactSVG      ArtifactKind = "svg"
	ArtifactPNG      ArtifactKind = "png"
)

// Provenance records where a card's data came from, for reproducibility.
type Provenance struct {
	Source    string `json:"source,omitempty"`
	Query     string `json:"query,omitempty"`
	Dataset   string `json:"dataset,omitempty"`
	CodeHash  string `json:"code_hash,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// Annotation is a single researcher note attached to a card.
type Annotation struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// Card is one rendered artifact in the display feed. Field names and JSON
// tags match the wire shape a browser client expects.
type Card struct {
	ID          string `json:"card_id"`
	Type        Type   `json:"card_type"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Timestamp   string `json:"timestamp"`
	Study       string `json:"study,omitempty"`

	Dismissed bool   `json:"dismissed"`
	Deleted   bool   `json:"deleted"`
	DeletedAt string `json:"deleted_at,omitempty"`

	ArtifactID   string       `json:"artifact_id,omitempty"`
	ArtifactType ArtifactKind `json:"artifact_type,omitempty"`

	Preview    map[string]any `json:"preview"`
	Provenance *Provenance    `json:"provenance,omitempty"`

	// Interaction state — set by the client-side API when wait=true.
	ResponseRequested bool     `json:"response_requested"`
	Prompt            string   `json:"prompt,omitempty"`
	Timeout           float64  `json:"timeout,omitempty"`
	Actions           []string `json:"actions,omitempty"`

	// Resolved response state.
	ResponseAction     string         `json:"response_action,omitempty"`
	ResponseMessage    string         `json:"response_message,omitempty"`
	ResponseValues     map[string]any `json:"response_values,omitempty"`
	ResponseSummary    string         `json:"response_summary,omitempty"`
	ResponseArtifactID string         `json:"response_artifact_id,omitempty"`
	ResponseTimestamp  string         `json:"response_timestamp,omitempty"`

	Annotations []Annotation `json:"annotations"`
}

// NewID mints a 12-hex-character card id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// New constructs a card with its defaults already applied: annotations start
// as an empty (never nil) slice, and the timestamp is stamped now in
// ISO-8601.
func New(typ Type) *Card {
	id := NewID()
	c := &Card{
		ID:          id,
		Type:        typ,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Preview:     map[string]any{},
		Annotations: []Annotation{},
	}
	return c
}

// ResponseArtifactIDFor returns the artifact id used for a captured response
// selection: resp-<card_id>, distinct from the card's own artifact_id.
func ResponseArtifactIDFor(cardID string) string {
	return "resp-" + cardID
}

// MatchesIDPrefix reports whether prefix identifies this card: either an
// exact match, a leading portion of the id before the first '-', or any
// leading hex prefix of length >= 4.
func (c *Card) MatchesIDPrefix(prefix string) bool {
	if prefix == "" {
		return false
	}
	if c.ID == prefix {
		return true
	}
	base := c.ID
	if idx := strings.IndexByte(base, '-'); idx >= 0 {
		base = base[:idx]
	}
	if base == prefix {
		return true
	}
	return len(prefix) >= 4 && strings.HasPrefix(c.ID, prefix)
}

// ClearResponseRequest clears the pending-response flag, enforcing the
// invariant that response_requested and response_action are never both set
// for the same still-open request.
func (c *Card) ClearResponseRequest() {
	c.ResponseRequested = false
	c.Prompt = ""
	c.Timeout = 0
}

// SetResponse resolves a pending response on the card.
func (c *Card) SetResponse(action, message string, values map[string]any, summary, artifactID string) {
	c.ClearResponseRequest()
	c.ResponseAction = action
	c.ResponseMessage = message
	c.ResponseValues = values
	c.ResponseSummary = summary
	c.ResponseArtifactID = artifactID
	c.ResponseTimestamp = time.Now().UTC().Format(time.RFC3339)
}

// SoftDelete marks the card deleted without removing its on-disk files.
func (c *Card) SoftDelete() {
	c.Deleted = true
	c.DeletedAt = time.Now().UTC().Format(time.RFC3339)
}

// CountsTowardCardCount reports whether this card should be included in card
// count aggregates: section cards and soft-deleted cards are excluded.
func (c *Card) CountsTowardCardCount() bool {
	return c.Type != Section && !c.Deleted
}
