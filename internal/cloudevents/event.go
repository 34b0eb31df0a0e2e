// Package cloudevents implements the envelope format shared by every
// service on the discovery mesh. Events follow the CloudEvents 1.0
// attribute set and are serialized as JSON with content type
// application/cloudevents+json.
package cloudevents

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// SpecVersion is the CloudEvents specification version stamped on
	// every envelope.
	SpecVersion = "1.0"

	// ContentType is the AMQP content type used for published envelopes.
	ContentType = "application/cloudevents+json"

	dataContentType = "application/json"
)

// Event is a CloudEvents 1.0 envelope. Subject carries the scan ID when
// the event was produced under an autonomous scan; CorrelationID links a
// scored event back to the discovered event it was derived from.
type Event struct {
	SpecVersion     string         `json:"specversion"`
	ID              string         `json:"id"`
	Source          string         `json:"source"`
	Type            string         `json:"type"`
	Subject         string         `json:"subject,omitempty"`
	Time            string         `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	CorrelationID   string         `json:"correlationid,omitempty"`
	Data            map[string]any `json:"data"`
}

// NewDiscovered builds a discovery.<entity>.discovered envelope. source is
// the producer path, e.g. /collectors/network-scanner. scanID may be empty
// for ad-hoc analysis calls.
func NewDiscovered(source, entity, scanID string, data map[string]any) *Event {
	return &Event{
		SpecVersion:     SpecVersion,
		ID:              uuid.NewString(),
		Source:          source,
		Type:            fmt.Sprintf("discovery.%s.discovered", entity),
		Subject:         scanID,
		Time:            time.Now().UTC().Format(time.RFC3339),
		DataContentType: dataContentType,
		Data:            data,
	}
}

// NewScored builds a discovery.<entity>.scored envelope from a processed
// discovered event, preserving the scan subject and recording the original
// event ID as the correlation ID.
func NewScored(original *Event, entity string) *Event {
	return &Event{
		SpecVersion:     SpecVersion,
		ID:              uuid.NewString(),
		Source:          "/platform/processor",
		Type:            fmt.Sprintf("discovery.%s.scored", entity),
		Subject:         original.Subject,
		Time:            time.Now().UTC().Format(time.RFC3339),
		DataContentType: dataContentType,
		CorrelationID:   original.ID,
		Data:            original.Data,
	}
}

// DiscoveredKey returns the routing key for a discovered entity.
func DiscoveredKey(entity string) string {
	return "discovered." + entity
}

// ScoredKey returns the routing key for a scored entity.
func ScoredKey(entity string) string {
	return "scored." + entity
}

// EntityFromType extracts the entity segment from a dotted event type such
// as discovery.server.discovered. Returns "" when the type does not follow
// the taxonomy.
func EntityFromType(eventType string) string {
	parts := strings.Split(eventType, ".")
	if len(parts) != 3 || parts[0] != "discovery" {
		return ""
	}
	return parts[1]
}

// EntityFromKey extracts the entity segment from a routing key such as
// discovered.server or scored.database.
func EntityFromKey(key string) string {
	if i := strings.IndexByte(key, '.'); i >= 0 {
		return key[i+1:]
	}
	return ""
}

// Validate reports whether the envelope carries the mandatory attributes.
func (e *Event) Validate() error {
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("unsupported specversion %q", e.SpecVersion)
	}
	if e.ID == "" {
		return fmt.Errorf("missing event id")
	}
	if e.Source == "" {
		return fmt.Errorf("missing event source")
	}
	if e.Type == "" {
		return fmt.Errorf("missing event type")
	}
	if e.Time != "" {
		if _, err := time.Parse(time.RFC3339, e.Time); err != nil {
			return fmt.Errorf("invalid event time %q: %w", e.Time, err)
		}
	}
	return nil
}
