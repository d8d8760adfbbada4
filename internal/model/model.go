// Package model defines the domain types used across the application.
package model

import (
	"strings"
	"time"
)

// InboundMessage is a platform-agnostic snapshot of a chat message.
type InboundMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorIsBot bool
	Body        string
	Reactions   []Reaction
	CreatedAt   time.Time
}

// Reaction is a reaction or annotation on a message, tagged with its sender.
type Reaction struct {
	Emoji  string
	UserID string
}

// ClipResult is the structured result of rendering and extracting one URL.
type ClipResult struct {
	Title       string
	Content     string
	Author      string
	Description string
	SiteName    string
	Published   string
	// URL is the resolved address after redirects.
	URL     string
	IsError bool
}

// Note is a rendered Markdown document and its path inside the vault.
type Note struct {
	Path    string
	Content string
}

// Outcome is the result of processing a URL or a whole message.
// Values are ordered by severity.
type Outcome int

// Supported outcomes, least severe first.
const (
	OutcomeSuccess Outcome = iota
	OutcomeWarning
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeWarning:
		return "warning"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Worst returns the more severe of two outcomes.
func Worst(a, b Outcome) Outcome {
	if b > a {
		return b
	}
	return a
}

// ParseOutcome is the inverse of Outcome.String.
func ParseOutcome(s string) (Outcome, bool) {
	switch s {
	case "success":
		return OutcomeSuccess, true
	case "warning":
		return OutcomeWarning, true
	case "error":
		return OutcomeError, true
	}
	return 0, false
}

// Marker is a status reaction the bot places on a message.
type Marker string

// Supported markers.
const (
	MarkerProcessing Marker = "processing"
	MarkerSuccess    Marker = "success"
	MarkerWarning    Marker = "warning"
	MarkerError      Marker = "error"
)

var markerEmoji = map[Marker]string{
	MarkerProcessing: "⏳",
	MarkerSuccess:    "✅",
	MarkerWarning:    "⚠️",
	MarkerError:      "❌",
}

// Emoji returns the default emoji used for the marker.
func (m Marker) Emoji() string {
	return markerEmoji[m]
}

// Terminal reports whether the marker denotes a final processing state.
func (m Marker) Terminal() bool {
	return m == MarkerSuccess || m == MarkerWarning || m == MarkerError
}

// MarkerFor maps an aggregate outcome to its terminal marker.
func MarkerFor(o Outcome) Marker {
	switch o {
	case OutcomeWarning:
		return MarkerWarning
	case OutcomeError:
		return MarkerError
	default:
		return MarkerSuccess
	}
}

// ParseMarker maps an emoji back to a marker. The U+FE0F variation
// selector is ignored since platforms disagree on whether to keep it.
func ParseMarker(emoji string) (Marker, bool) {
	want := stripVariation(emoji)
	for m, e := range markerEmoji {
		if stripVariation(e) == want {
			return m, true
		}
	}
	return "", false
}

func stripVariation(s string) string {
	return strings.ReplaceAll(s, "\ufe0f", "")
}

// ClipRecord is a journal entry for one note written to the vault.
type ClipRecord struct {
	ID          int64
	MessageID   string
	ChannelID   string
	URL         string
	ResolvedURL string
	Title       string
	Path        string
	Outcome     Outcome
	CreatedAt   time.Time
}
