// internal/browser/dom/snapshot.go
package dom

// Snapshot is what a live tab reports about its document in a single
// evaluation. HTML is the serialized document with IndexAttr set on every
// element; Elements and StyleSheets refer to those indices.
type Snapshot struct {
	URL         string            `json:"url"`
	HTML        string            `json:"html"`
	Viewport    Rect              `json:"viewport"`
	Elements    []ElementSnapshot `json:"elements"`
	StyleSheets []SheetSnapshot   `json:"styleSheets"`
}

// ElementSnapshot holds the measurements of one element.
type ElementSnapshot struct {
	Index        int               `json:"index"`
	ScrollHeight float64           `json:"scrollHeight"`
	ClientHeight float64           `json:"clientHeight"`
	Rect         Rect              `json:"rect"`
	Computed     map[string]string `json:"computed,omitempty"`
	// FrameHeight is the content height of a same-origin iframe. It is nil
	// when the frame's document could not be read.
	FrameHeight *float64    `json:"frameHeight,omitempty"`
	Media       *MediaState `json:"media,omitempty"`
}

// SheetSnapshot describes a <link> stylesheet. Text is the concatenated
// cssText of its rules when Readable.
type SheetSnapshot struct {
	OwnerIndex int    `json:"ownerIndex"`
	Href       string `json:"href"`
	Readable   bool   `json:"readable"`
	Text       string `json:"text,omitempty"`
}

// Rect is a bounding box in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Metrics are the layout measurements a fixer context captures.
type Metrics struct {
	ScrollHeight float64
	ClientHeight float64
	Rect         Rect
}

// SetSnapshot attaches (or replaces) live measurements for this element.
func (e *Element) SetSnapshot(s ElementSnapshot) {
	e.doc.snaps[e.node] = &s
	if s.Media != nil {
		if mm, ok := e.doc.media.(*MemoryMedia); ok {
			mm.Seed(e, *s.Media)
		}
	}
}

// Snapshot returns the live measurements attached to the element, if any.
func (e *Element) Snapshot() (ElementSnapshot, bool) {
	s, ok := e.doc.snaps[e.node]
	if !ok {
		return ElementSnapshot{}, false
	}
	return *s, true
}
