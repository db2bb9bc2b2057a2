// Package styles is the per-origin style store: every origin maps to an
// ordered collection of generated stylesheets plus the id of the one that is
// currently active. The whole mapping is persisted as one JSON blob.
package styles

// StyleRecord is one generated stylesheet. Records are immutable; they are
// appended or removed with their site, never edited.
type StyleRecord struct {
	ID     int64  `json:"id"`
	Prompt string `json:"prompt"`
	CSS    string `json:"css"`
}

// SiteEntry holds the styles saved for a single origin in insertion order.
// When ActiveStyleID is non-nil exactly one element of Styles carries it.
type SiteEntry struct {
	Styles        []StyleRecord `json:"styles"`
	ActiveStyleID *int64        `json:"activeStyleId"`
}

// Site pairs an origin with its entry, for listings.
type Site struct {
	Origin string
	Entry  SiteEntry
}

// Find returns the record with the given id.
func (e SiteEntry) Find(id int64) (StyleRecord, bool) {
	for _, r := range e.Styles {
		if r.ID == id {
			return r, true
		}
	}
	return StyleRecord{}, false
}

// Active returns the active record, if any.
func (e SiteEntry) Active() (StyleRecord, bool) {
	if e.ActiveStyleID == nil {
		return StyleRecord{}, false
	}
	return e.Find(*e.ActiveStyleID)
}

// IsEmpty reports whether the entry has no styles.
func (e SiteEntry) IsEmpty() bool {
	return len(e.Styles) == 0
}

func (e SiteEntry) maxID() int64 {
	var max int64
	for _, r := range e.Styles {
		if r.ID > max {
			max = r.ID
		}
	}
	return max
}

func (e SiteEntry) clone() SiteEntry {
	out := SiteEntry{Styles: make([]StyleRecord, len(e.Styles))}
	copy(out.Styles, e.Styles)
	if e.ActiveStyleID != nil {
		id := *e.ActiveStyleID
		out.ActiveStyleID = &id
	}
	return out
}

// IDPtr is a convenience for building optional style ids.
func IDPtr(id int64) *int64 {
	return &id
}
