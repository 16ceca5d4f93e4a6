package dom

import (
	"context"
	"errors"
	"sync"
)

// ErrPlaybackBlocked is returned by Play when the autoplay policy refuses playback.
var ErrPlaybackBlocked = errors.New("playback blocked by autoplay policy")

// HaveMetadata is the HTMLMediaElement readyState at which duration and
// dimensions are known.
const HaveMetadata = 1

// MediaState mirrors the playback state of a <video> or <audio> element.
type MediaState struct {
	Paused      bool    `json:"paused"`
	CurrentTime float64 `json:"currentTime"`
	ReadyState  int     `json:"readyState"`
}

// MediaController reads and drives media playback for elements of a document.
type MediaController interface {
	State(ctx context.Context, el *Element) (MediaState, error)
	Pause(ctx context.Context, el *Element) error
	Play(ctx context.Context, el *Element) error
	Seek(ctx context.Context, el *Element, t float64) error
}

// MemoryMedia is a MediaController for documents without a live tab. Unknown
// elements start paused at 0, playing if they carry autoplay, with metadata
// loaded if they have a source.
type MemoryMedia struct {
	mu        sync.Mutex
	states    map[*Element]*MediaState
	BlockPlay bool
}

// NewMemoryMedia creates an empty controller.
func NewMemoryMedia() *MemoryMedia {
	return &MemoryMedia{states: make(map[*Element]*MediaState)}
}

// Seed sets the state of an element.
func (m *MemoryMedia) Seed(el *Element, st MediaState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := st
	m.states[el] = &s
}

func (m *MemoryMedia) get(el *Element) *MediaState {
	if st, ok := m.states[el]; ok {
		return st
	}
	st := &MediaState{Paused: !el.HasAttr("autoplay")}
	if el.HasAttr("src") {
		st.ReadyState = HaveMetadata
	}
	for _, child := range el.Children() {
		if child.TagName() == "source" && child.HasAttr("src") {
			st.ReadyState = HaveMetadata
		}
	}
	m.states[el] = st
	return st
}

func (m *MemoryMedia) State(_ context.Context, el *Element) (MediaState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(el), nil
}

func (m *MemoryMedia) Pause(_ context.Context, el *Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(el).Paused = true
	return nil
}

func (m *MemoryMedia) Play(_ context.Context, el *Element) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BlockPlay {
		return ErrPlaybackBlocked
	}
	m.get(el).Paused = false
	return nil
}

func (m *MemoryMedia) Seek(_ context.Context, el *Element, t float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.get(el).CurrentTime = t
	return nil
}
