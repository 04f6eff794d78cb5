// Package events publishes pattern lifecycle events.
//
// Events are fire-and-forget notifications; the pattern store never blocks
// on or fails because of a publisher. Subjects follow
//
//	<prefix>.<action>
//
// for example guidance.patterns.promoted.
package events

import (
	"context"
	"time"
)

// Action names a lifecycle transition.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionPromoted Action = "promoted"
	ActionPruned   Action = "pruned"
	ActionEvicted  Action = "evicted"
)

// Event describes one lifecycle transition of a pattern.
type Event struct {
	Action       Action    `json:"action"`
	PatternID    string    `json:"pattern_id"`
	Tier         string    `json:"tier"`
	Domain       string    `json:"domain,omitempty"`
	Quality      float64   `json:"quality"`
	UsageCount   int       `json:"usage_count"`
	SuccessCount int       `json:"success_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

var _ Publisher = Noop{}
