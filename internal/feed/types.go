// Package feed defines the social-platform data model and client contract,
// plus an HTTP implementation for the X API v2.
package feed

import "time"

// Metrics holds public engagement counts for an item.
type Metrics struct {
	Likes   int `json:"like_count"`
	Replies int `json:"reply_count"`
	Reposts int `json:"retweet_count"`
}

// Item is a single piece of feed content. Sourced externally; never mutated.
type Item struct {
	ID             string
	Text           string
	AuthorID       string
	ConversationID string
	CreatedAt      time.Time
	Metrics        Metrics
}
