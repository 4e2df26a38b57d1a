package engine

import "time"

// NoticeKind classifies a transient notice.
type NoticeKind string

const (
	NoticeRejected NoticeKind = "rejected"
	NoticeStep     NoticeKind = "step"
	NoticePhase    NoticeKind = "phase"
	NoticeInfo     NoticeKind = "info"
)

// Notice is a transient message for the learner. Notices never reach the
// persisted progress record.
type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Text    string     `json:"text"`
	Expires time.Time  `json:"expires"`
}

// notices is a TTL-bounded list ordered by creation.
type notices struct {
	ttl   time.Duration
	items []Notice
}

func (n *notices) add(now time.Time, kind NoticeKind, text string) {
	n.items = append(n.items, Notice{Kind: kind, Text: text, Expires: now.Add(n.ttl)})
}

// live returns unexpired notices without pruning.
func (n *notices) live(now time.Time) []Notice {
	var out []Notice
	for _, it := range n.items {
		if now.Before(it.Expires) {
			out = append(out, it)
		}
	}
	return out
}

func (n *notices) prune(now time.Time) {
	kept := n.items[:0]
	for _, it := range n.items {
		if now.Before(it.Expires) {
			kept = append(kept, it)
		}
	}
	n.items = kept
}

func (n *notices) clear() {
	n.items = nil
}
