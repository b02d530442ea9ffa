package fanout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyHandle_TakeOnce(t *testing.T) {
	t.Parallel()

	h := NewReplyHandle("rt", time.Time{})

	tok, ok := h.Take()
	require.True(t, ok)
	assert.Equal(t, "rt", tok)
	assert.True(t, h.Used())

	_, ok = h.Take()
	assert.False(t, ok)
}

func TestReplyHandle_ConcurrentTakeHasOneWinner(t *testing.T) {
	t.Parallel()

	h := NewReplyHandle("rt", time.Time{})

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)

	for range 32 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, ok := h.Take(); ok {
				wins.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestReplyHandle_ExpiredOrEmpty(t *testing.T) {
	t.Parallel()

	expired := NewReplyHandle("rt", time.Now().Add(-time.Second))
	_, ok := expired.Take()
	assert.False(t, ok)
	assert.False(t, expired.Used())

	_, ok = NewReplyHandle("", time.Time{}).Take()
	assert.False(t, ok)

	var nilHandle *ReplyHandle
	_, ok = nilHandle.Take()
	assert.False(t, ok)
	assert.False(t, nilHandle.Used())
}

func TestNotify_ReplySucceeds(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	n := NewNotifier(tr, time.Second, testLogger(t))

	ch := n.Notify(context.Background(), Target{Reply: NewReplyHandle("rt", time.Time{}), To: "U1"}, "hi")

	assert.Equal(t, ChannelReply, ch)
	assert.Equal(t, []string{"hi"}, tr.to("rt"))
	assert.Zero(t, tr.pushes)
}

func TestNotify_ReplyFailureFallsBackToExactlyOnePush(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{replyErr: errSendFailed}
	n := NewNotifier(tr, time.Second, testLogger(t))

	ch := n.Notify(context.Background(), Target{Reply: NewReplyHandle("rt", time.Time{}), To: "U1"}, "hi")

	assert.Equal(t, ChannelPush, ch)
	assert.Equal(t, 1, tr.replies)
	assert.Equal(t, 1, tr.pushes)
	assert.Equal(t, []string{"hi"}, tr.to("U1"))
}

func TestNotify_ConsumedHandleFallsBackToPush(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	n := NewNotifier(tr, time.Second, testLogger(t))

	h := NewReplyHandle("rt", time.Time{})
	_, _ = h.Take()

	ch := n.Notify(context.Background(), Target{Reply: h, To: "U1"}, "hi")

	assert.Equal(t, ChannelPush, ch)
	assert.Zero(t, tr.replies)
	assert.Equal(t, 1, tr.pushes)
}

func TestNotify_BothFail(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{replyErr: errSendFailed, pushErr: map[string]error{"U1": errSendFailed}}
	n := NewNotifier(tr, time.Second, testLogger(t))

	ch := n.Notify(context.Background(), Target{Reply: NewReplyHandle("rt", time.Time{}), To: "U1"}, "hi")

	assert.Equal(t, ChannelFailed, ch)
	assert.Equal(t, 1, tr.pushes)
}

func TestNotify_NoTarget(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{}
	n := NewNotifier(tr, time.Second, testLogger(t))

	assert.Equal(t, ChannelFailed, n.Notify(context.Background(), Target{}, "hi"))
	assert.Zero(t, tr.replies+tr.pushes)
}

func TestNotify_EachAttemptIsBounded(t *testing.T) {
	t.Parallel()

	tr := &fakeTransport{block: true}
	n := NewNotifier(tr, 20*time.Millisecond, testLogger(t))

	start := time.Now()
	ch := n.Notify(context.Background(), Target{Reply: NewReplyHandle("rt", time.Time{}), To: "U1"}, "hi")

	assert.Equal(t, ChannelFailed, ch)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestChannel_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "direct_reply", ChannelReply.String())
	assert.Equal(t, "fallback_push", ChannelPush.String())
	assert.Equal(t, "failed", ChannelFailed.String())
}

func TestNotifier_SetTimeoutDefaults(t *testing.T) {
	t.Parallel()

	n := NewNotifier(&fakeTransport{}, 0, nil)
	assert.Equal(t, int64(DefaultNotifyTimeout), n.timeout.Load())

	n.SetTimeout(time.Second)
	assert.Equal(t, int64(time.Second), n.timeout.Load())
}
