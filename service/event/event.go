package event

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mikeydub/go-activity/service/logger"
	"github.com/mikeydub/go-activity/service/persist"
)

// ErrHalt stops a hook chain. Handlers after the halting one are not run.
var ErrHalt = errors.New("hook chain halted")

// DefaultPriority is used by handlers that do not care about ordering.
const DefaultPriority = 10

// HandlerFunc receives the value produced by the previous handler and returns the value
// passed on to the next one.
type HandlerFunc[T any] func(ctx context.Context, v T) (T, error)

type registration[T any] struct {
	name     string
	priority int
	seq      int
	handler  HandlerFunc[T]
}

// Hook is an ordered chain of handlers over a single value type. Handlers run in ascending
// priority; registration order breaks ties.
type Hook[T any] struct {
	mu       sync.RWMutex
	handlers []registration[T]
	seq      int
}

func (h *Hook[T]) Register(name string, priority int, handler HandlerFunc[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	h.handlers = append(h.handlers, registration[T]{name: name, priority: priority, seq: h.seq, handler: handler})
	sort.SliceStable(h.handlers, func(i, j int) bool {
		if h.handlers[i].priority != h.handlers[j].priority {
			return h.handlers[i].priority < h.handlers[j].priority
		}
		return h.handlers[i].seq < h.handlers[j].seq
	})
}

// Len returns the number of registered handlers.
func (h *Hook[T]) Len() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}

// Run passes v through every handler. If a handler halts the chain, Run returns that handler's
// value together with an error wrapping ErrHalt. Any other error stops the chain and is returned
// with the last good value.
func (h *Hook[T]) Run(ctx context.Context, v T) (T, error) {
	if h == nil {
		return v, nil
	}

	h.mu.RLock()
	handlers := make([]registration[T], len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.RUnlock()

	for _, r := range handlers {
		next, err := r.handler(ctx, v)
		if errors.Is(err, ErrHalt) {
			logger.For(ctx).Debugf("hook handler %s halted the chain", r.name)
			return next, err
		}
		if err != nil {
			return v, err
		}
		v = next
	}

	return v, nil
}

// Notify runs the chain for its side effects. Failures are logged and not returned.
func (h *Hook[T]) Notify(ctx context.Context, v T) {
	if _, err := h.Run(ctx, v); err != nil && !errors.Is(err, ErrHalt) {
		logger.For(ctx).WithError(err).Warn("hook handler failed")
	}
}

// ContentEvent carries content being saved so filters can rewrite it.
type ContentEvent struct {
	UserID  persist.DBID
	Type    string
	Content string
}

// CommentEvent describes a comment that was posted, or is about to be deleted.
type CommentEvent struct {
	CommentID persist.DBID
	RootID    persist.DBID
	ParentID  persist.DBID
	UserID    persist.DBID
	Content   string
}

// DeletedEvent lists the activities a delete removed.
type DeletedEvent struct {
	IDs        []persist.DBID
	Activities []persist.Activity
}

// Hooks are the extension points of the activity API. A zero Hooks runs nothing.
type Hooks struct {
	ContentFilter       Hook[ContentEvent]
	ActivityAdded       Hook[persist.Activity]
	UpdatePosted        Hook[persist.Activity]
	CommentPosted       Hook[CommentEvent]
	BeforeDeleteComment Hook[CommentEvent]
	ActivitiesDeleted   Hook[DeletedEvent]
}

func NewHooks() *Hooks {
	return &Hooks{}
}
