package models

import "time"

// Passage is one retrieved passage with its scores. Score is the stage-2
// pairwise rerank score, which determines the final ordering. The stage-1
// components are kept for diagnostics.
type Passage struct {
	Text           string    `json:"text"`
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	PublishedAt    time.Time `json:"published_at"`
	Language       string    `json:"language,omitempty"`
	Score          float64   `json:"score"`
	CosineScore    float64   `json:"cosine_score"`
	FreshnessScore float64   `json:"freshness_score"`
	BlendedScore   float64   `json:"blended_score"`
}

// RetrieveResponse is the response for a retrieval request. Passages may be
// empty when nothing passes the thresholds; that is a valid outcome, not an
// error, and the generation stage is expected to decline to answer.
type RetrieveResponse struct {
	Passages  []*Passage `json:"passages"`
	QueryTime int64      `json:"query_time_ms"`
	Question  string     `json:"question"`
}
