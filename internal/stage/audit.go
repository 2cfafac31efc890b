package stage

import "time"

const DefaultAuditLimit = 200

type AuditEntry struct {
	Message string    `json:"message"`
	ActorID string    `json:"actorId,omitempty"`
	At      time.Time `json:"at"`
}

// auditLog keeps the most recent entries in insertion order.
type auditLog struct {
	limit   int
	entries []AuditEntry
}

func (l *auditLog) append(e AuditEntry) {
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

func (l *auditLog) list() []AuditEntry {
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
