package fanout

import (
	"sync/atomic"
	"time"
)

// ReplyHandle is the one-shot capability to answer an inbound event. The
// platform accepts a reply token once and only within a short window, so
// Take hands the token out at most once and not after expiry.
type ReplyHandle struct {
	token   string
	expires time.Time // zero means no local expiry check
	taken   atomic.Bool
	nowFunc func() time.Time
}

// NewReplyHandle wraps a reply token. A zero expires disables the local
// expiry check; the platform still enforces its own.
func NewReplyHandle(token string, expires time.Time) *ReplyHandle {
	return &ReplyHandle{token: token, expires: expires, nowFunc: time.Now}
}

// Take returns the token and true on the first call while unexpired. Later
// calls, or calls on a nil or empty handle, return false.
func (h *ReplyHandle) Take() (string, bool) {
	if h == nil || h.token == "" {
		return "", false
	}

	if !h.expires.IsZero() && !h.nowFunc().Before(h.expires) {
		return "", false
	}

	if !h.taken.CompareAndSwap(false, true) {
		return "", false
	}

	return h.token, true
}

// Used reports whether the token has been handed out.
func (h *ReplyHandle) Used() bool {
	return h != nil && h.taken.Load()
}
