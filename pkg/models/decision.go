package models

import "fmt"

// Decision is the outcome of routing one article during incremental
// assignment. Exactly one of Assigned or Deferred applies per article; the
// sealed interface keeps switch statements exhaustive instead of threading
// loosely-typed reason strings around.
type Decision interface {
	isDecision()
	String() string
}

// Assigned means the article was mapped to an existing topic.
type Assigned struct {
	TopicID int64
	Score   float64
}

func (Assigned) isDecision() {}

func (d Assigned) String() string {
	return fmt.Sprintf("assigned(topic=%d score=%.3f)", d.TopicID, d.Score)
}

// Deferred means the article went to the pending pool.
type Deferred struct {
	BestScore float64
	Reason    PendingReason
}

func (Deferred) isDecision() {}

func (d Deferred) String() string {
	return fmt.Sprintf("deferred(reason=%s best=%.3f)", d.Reason, d.BestScore)
}
