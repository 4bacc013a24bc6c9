package relay

import (
	"fmt"
	"strings"
	"time"
)

// Class is the command class of a request.
type Class string

const (
	ClassInstant     Class = "instant-query"
	ClassSpawn       Class = "spawn-task"
	ClassConstrained Class = "constrained-spawn-task"
)

// Classes lists every class in a stable order.
var Classes = []Class{ClassInstant, ClassSpawn, ClassConstrained}

// ParseClass accepts a class name.
func ParseClass(s string) (Class, error) {
	c := Class(strings.TrimSpace(s))
	for _, known := range Classes {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown class %q", ErrValidation, s)
}

// Constrained reports whether the class needs a Concurrency Guard slot.
func (c Class) Constrained() bool { return c == ClassConstrained }

// Request is one inbound chat command. It is discarded after dispatch.
type Request struct {
	ID         string
	Principal  string
	Class      Class
	Payload    string
	ReceivedAt time.Time
}

// Validate rejects malformed input before anything is touched.
func (r Request) Validate(maxPayloadBytes int) error {
	if strings.TrimSpace(r.Principal) == "" {
		return fmt.Errorf("%w: principal is empty", ErrValidation)
	}
	if _, err := ParseClass(string(r.Class)); err != nil {
		return err
	}
	if r.Class != ClassInstant && strings.TrimSpace(r.Payload) == "" {
		return fmt.Errorf("%w: %s needs a task description", ErrValidation, r.Class)
	}
	if maxPayloadBytes > 0 && len(r.Payload) > maxPayloadBytes {
		return fmt.Errorf("%w: payload is %d bytes (limit %d)", ErrValidation, len(r.Payload), maxPayloadBytes)
	}
	if strings.ContainsRune(r.Payload, 0) {
		return fmt.Errorf("%w: payload contains a NUL byte", ErrValidation)
	}
	return nil
}
