package chat

import "time"

// BlockRelation is a directed edge: Blocker refuses any further exchange with
// Blocked, in both send directions, without touching prior history.
type BlockRelation struct {
	Blocker   string
	Blocked   string
	Reason    string
	CreatedAt time.Time
}

// BlockStatus summarizes the edges between two users as seen from one side.
type BlockStatus struct {
	ByMe   bool
	ByPeer bool
}

func (s BlockStatus) Any() bool {
	return s.ByMe || s.ByPeer
}
