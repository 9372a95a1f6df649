package queue

import (
	"time"
)

// Status is a queue item's lifecycle state.
type Status uint8

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusTimeout
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusTimeout:
		return "timeout"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusCancelled:
		return true
	}
	return false
}

// Result is produced once per successfully completed item and never mutated
// afterwards.
type Result struct {
	TokenID      string `json:"tokenId"`
	TxHash       string `json:"transactionHash"`
	ContentCID   string `json:"contentCid"`
	MetadataCID  string `json:"metadataCid"`
	RewardSent   string `json:"rewardSent"`
	RewardBurned string `json:"rewardBurned"`
	Rarity       string `json:"rarity"`
}

// Item is one mint request moving through the queue.
type Item struct {
	ID          string
	Payer       string // lowercased hex address
	Artwork     []byte
	ArtworkName string
	Status      Status
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	RetryCount  int
	Result      *Result
	LastError   string
}

// snapshot returns a copy safe to hand out without holding the queue lock.
func (it *Item) snapshot() Item {
	cp := *it
	if it.Result != nil {
		r := *it.Result
		cp.Result = &r
	}
	return cp
}

// Event is published on every terminal transition. Item is a snapshot taken
// at transition time.
type Event struct {
	Item Item
}
