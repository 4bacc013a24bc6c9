package delivery

import (
	"context"
	"fmt"
	"sync"
)

// EmptyOutput is delivered when a result has no text.
const EmptyOutput = "(no output)"

// Replier is the chat-side reply channel. Edit replaces the initial reply;
// Send appends a new message after it.
type Replier interface {
	Edit(ctx context.Context, text string) error
	Send(ctx context.Context, text string) error
}

// Deliver chunks text and sends the segments in order: the first through
// Edit, the rest through Send. It stops at the first failed send.
func Deliver(ctx context.Context, r Replier, text string, maxLength int) (int, error) {
	segments := Chunk(text, maxLength)
	if len(segments) == 0 {
		segments = []string{EmptyOutput}
	}
	for i, seg := range segments {
		var err error
		if i == 0 {
			err = r.Edit(ctx, seg)
		} else {
			err = r.Send(ctx, seg)
		}
		if err != nil {
			return i, fmt.Errorf("deliver segment %d/%d: %w", i+1, len(segments), err)
		}
	}
	return len(segments), nil
}

// Buffer is a Replier that records segments in memory. It backs the HTTP
// boundary, which returns all segments in one response.
type Buffer struct {
	mu       sync.Mutex
	segments []string
}

// Edit replaces the first segment.
func (b *Buffer) Edit(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.segments) == 0 {
		b.segments = append(b.segments, text)
	} else {
		b.segments[0] = text
	}
	return nil
}

// Send appends a segment.
func (b *Buffer) Send(_ context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.segments = append(b.segments, text)
	return nil
}

// Segments returns a copy of what has been delivered so far.
func (b *Buffer) Segments() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.segments...)
}
