package verdict

import (
	"container/ring"
	"sync"
	"unicode/utf8"
)

const maxMsgLen = 1024

// History keeps track of last N responses, thread-safe
type History struct {
	responses *ring.Ring
	size      int
	lock      sync.RWMutex
}

// NewHistory creates new responses tracker
func NewHistory(size int) *History {
	// minimum size is 1
	if size < 1 {
		size = 1
	}
	return &History{
		responses: ring.New(size),
		size:      size,
	}
}

// Push adds new response to the history, long messages are truncated
func (h *History) Push(resp Response) {
	if utf8.RuneCountInString(resp.Msg) > maxMsgLen {
		resp.Msg = string([]rune(resp.Msg)[:maxMsgLen])
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	h.responses.Value = resp
	h.responses = h.responses.Next()
}

// Last returns up to n last responses in chronological order (oldest to newest)
func (h *History) Last(n int) []Response {
	if n < 1 {
		return []Response{}
	}

	h.lock.RLock()
	defer h.lock.RUnlock()

	all := make([]Response, 0, h.size)
	h.responses.Do(func(v any) {
		if resp, ok := v.(Response); ok {
			all = append(all, resp)
		}
	})

	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Size returns the capacity of the history
func (h *History) Size() int {
	return h.size
}
