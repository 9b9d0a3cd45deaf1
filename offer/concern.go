package offer

import (
	"encoding/json"
	"time"
)

// =============================================================================
// CONCERN - Question/response entry embedded in an offer
// =============================================================================

type ConcernStatus string

const (
	ConcernPending  ConcernStatus = "PENDING"
	ConcernResolved ConcernStatus = "RESOLVED"
)

type Concern struct {
	ID            ConcernID     `json:"id"`
	Question      string        `json:"question"`
	DateAsked     time.Time     `json:"date_asked"`
	Response      *string       `json:"response,omitempty"`
	DateResponded *time.Time    `json:"date_responded,omitempty"`
	Status        ConcernStatus `json:"status"`
}

// =============================================================================
// CONCERN THREAD - Owned, ordered child collection
// =============================================================================

// ConcernThread keeps concerns addressable by ID while preserving the order
// they were raised in (oldest first). Entries are only ever appended; a
// resolved entry is never reopened.
type ConcernThread struct {
	order []ConcernID
	byID  map[ConcernID]*Concern
}

func NewConcernThread(entries ...Concern) *ConcernThread {
	t := &ConcernThread{byID: make(map[ConcernID]*Concern, len(entries))}
	for _, e := range entries {
		t.put(e)
	}
	return t
}

func (t *ConcernThread) put(c Concern) {
	if _, exists := t.byID[c.ID]; !exists {
		t.order = append(t.order, c.ID)
	}
	entry := c
	t.byID[c.ID] = &entry
}

// Append adds a new pending concern at the end of the thread.
func (t *ConcernThread) Append(id ConcernID, question string, at time.Time) Concern {
	c := Concern{ID: id, Question: question, DateAsked: at, Status: ConcernPending}
	t.put(c)
	return c
}

// Resolve records a response for a pending concern.
func (t *ConcernThread) Resolve(id ConcernID, response string, at time.Time) (Concern, error) {
	if t == nil {
		return Concern{}, notFound("concern", string(id))
	}
	c, ok := t.byID[id]
	if !ok {
		return Concern{}, notFound("concern", string(id))
	}
	if c.Status == ConcernResolved {
		return Concern{}, precondition("", "concern %s is already resolved", id)
	}
	c.Response = &response
	c.DateResponded = &at
	c.Status = ConcernResolved
	return *c, nil
}

func (t *ConcernThread) Get(id ConcernID) (Concern, bool) {
	if t == nil {
		return Concern{}, false
	}
	c, ok := t.byID[id]
	if !ok {
		return Concern{}, false
	}
	return *c, true
}

// Entries returns the concerns oldest first.
func (t *ConcernThread) Entries() []Concern {
	if t == nil {
		return []Concern{}
	}
	out := make([]Concern, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}

func (t *ConcernThread) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// Pending counts unresolved concerns.
func (t *ConcernThread) Pending() int {
	n := 0
	for _, c := range t.Entries() {
		if c.Status == ConcernPending {
			n++
		}
	}
	return n
}

func (t *ConcernThread) Clone() *ConcernThread {
	if t == nil {
		return NewConcernThread()
	}
	return NewConcernThread(t.Entries()...)
}

func (t *ConcernThread) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Entries())
}

func (t *ConcernThread) UnmarshalJSON(data []byte) error {
	var entries []Concern
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*t = *NewConcernThread(entries...)
	return nil
}
