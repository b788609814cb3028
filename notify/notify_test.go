package notify

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/Scl-Ywr/confession-wall-sub003/store"
	"github.com/Scl-Ywr/confession-wall-sub003/types"
)

type fakeHandle struct {
	mu     sync.Mutex
	click  func()
	closed bool
	title  string
	body   string
}

func (h *fakeHandle) OnClick(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.click = fn
}

func (h *fakeHandle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

func (h *fakeHandle) Click() {
	h.mu.Lock()
	fn := h.click
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

type fakeCapability struct {
	state     PermissionState
	promptTo  PermissionState
	promptErr error
	prompts   int
	shown     []*fakeHandle
	showErr   error
}

func (c *fakeCapability) PermissionState() PermissionState { return c.state }

func (c *fakeCapability) RequestPermission(context.Context) (PermissionState, error) {
	c.prompts++
	if c.promptErr != nil {
		return PermissionDefault, c.promptErr
	}
	c.state = c.promptTo
	return c.promptTo, nil
}

func (c *fakeCapability) Show(title, body, _ string) (Handle, error) {
	if c.showErr != nil {
		return nil, c.showErr
	}
	h := &fakeHandle{title: title, body: body}
	c.shown = append(c.shown, h)
	return h, nil
}

type fakeRouter struct {
	private []string
	groups  []string
}

func (r *fakeRouter) OpenPrivate(senderID string) { r.private = append(r.private, senderID) }
func (r *fakeRouter) OpenGroup(groupID string)    { r.groups = append(r.groups, groupID) }

func privateMsg(content string) *types.Message {
	return &types.Message{
		ID:           "m1",
		Conversation: types.ConversationPrivate,
		SenderID:     "bob",
		RecipientID:  "alice",
		Content:      content,
		ContentType:  types.ContentText,
		Sender:       &store.Profile{ID: "bob", DisplayName: "Bob"},
	}
}

func TestDispatch_Granted(t *testing.T) {
	cap := &fakeCapability{state: PermissionGranted}
	d := NewDispatcher(cap, nil, WithAutoDismiss(time.Hour))

	require.NoError(t, d.Dispatch(context.Background(), privateMsg("hello")))
	require.Len(t, cap.shown, 1)
	assert.Equal(t, "Bob", cap.shown[0].title)
	assert.Equal(t, "hello", cap.shown[0].body)
	assert.Zero(t, cap.prompts)
}

func TestDispatch_NilCapabilityIsNoOp(t *testing.T) {
	d := NewDispatcher(nil, nil)
	assert.NoError(t, d.Dispatch(context.Background(), privateMsg("hi")))
}

func TestDispatch_DeniedSkipsSilently(t *testing.T) {
	cap := &fakeCapability{state: PermissionDenied}
	d := NewDispatcher(cap, nil)

	require.NoError(t, d.Dispatch(context.Background(), privateMsg("hi")))
	assert.Empty(t, cap.shown)
	assert.Zero(t, cap.prompts)

	// Subsequent events still process normally
	require.NoError(t, d.Dispatch(context.Background(), privateMsg("again")))
	assert.Empty(t, cap.shown)
}

func TestDispatch_PromptDenied(t *testing.T) {
	cap := &fakeCapability{state: PermissionDefault, promptTo: PermissionDenied}
	d := NewDispatcher(cap, nil, WithPromptLimit(rate.Inf, 1))

	require.NoError(t, d.Dispatch(context.Background(), privateMsg("hi")))
	assert.Equal(t, 1, cap.prompts)
	assert.Empty(t, cap.shown)
}

func TestDispatch_PromptGranted(t *testing.T) {
	cap := &fakeCapability{state: PermissionDefault, promptTo: PermissionGranted}
	d := NewDispatcher(cap, nil, WithPromptLimit(rate.Inf, 1), WithAutoDismiss(time.Hour))

	require.NoError(t, d.Dispatch(context.Background(), privateMsg("hi")))
	assert.Equal(t, 1, cap.prompts)
	assert.Len(t, cap.shown, 1)
}

func TestDispatch_PromptRateLimited(t *testing.T) {
	cap := &fakeCapability{state: PermissionDefault, promptTo: PermissionDenied}
	d := NewDispatcher(cap, nil, WithPromptLimit(rate.Every(time.Hour), 1))

	require.NoError(t, d.Dispatch(context.Background(), privateMsg("one")))
	require.NoError(t, d.Dispatch(context.Background(), privateMsg("two")))
	assert.Equal(t, 1, cap.prompts, "second event must not re-prompt")
}

func TestDispatch_PromptError(t *testing.T) {
	cap := &fakeCapability{state: PermissionDefault, promptErr: fmt.Errorf("ui gone")}
	d := NewDispatcher(cap, nil, WithPromptLimit(rate.Inf, 1))

	assert.NoError(t, d.Dispatch(context.Background(), privateMsg("hi")))
	assert.Empty(t, cap.shown)
}

func TestDispatch_UnknownSenderFallback(t *testing.T) {
	cap := &fakeCapability{state: PermissionGranted}
	d := NewDispatcher(cap, nil, WithAutoDismiss(time.Hour))

	msg := privateMsg("hi")
	msg.Sender = nil
	require.NoError(t, d.Dispatch(context.Background(), msg))
	require.Len(t, cap.shown, 1)
	assert.Equal(t, "unknown user", cap.shown[0].title)
}

func TestDispatch_BodyTruncationAndPlaceholder(t *testing.T) {
	cap := &fakeCapability{state: PermissionGranted}
	d := NewDispatcher(cap, nil, WithAutoDismiss(time.Hour))

	long := ""
	for i := 0; i < 120; i++ {
		long += "x"
	}
	require.NoError(t, d.Dispatch(context.Background(), privateMsg(long)))

	img := privateMsg("ignored")
	img.ContentType = types.ContentImage
	require.NoError(t, d.Dispatch(context.Background(), img))

	require.Len(t, cap.shown, 2)
	assert.Len(t, []rune(cap.shown[0].body), maxBodyLength+1) // truncated + ellipsis
	assert.Equal(t, "[image]", cap.shown[1].body)
}

func TestDispatch_ClickRoutesAndCloses(t *testing.T) {
	cap := &fakeCapability{state: PermissionGranted}
	router := &fakeRouter{}
	d := NewDispatcher(cap, router, WithAutoDismiss(time.Hour))

	require.NoError(t, d.Dispatch(context.Background(), privateMsg("hi")))

	group := &types.Message{
		Conversation: types.ConversationGroup,
		SenderID:     "bob",
		GroupID:      "g1",
		Content:      "hey",
		ContentType:  types.ContentText,
	}
	require.NoError(t, d.Dispatch(context.Background(), group))
	require.Len(t, cap.shown, 2)

	cap.shown[0].Click()
	cap.shown[1].Click()

	assert.Equal(t, []string{"bob"}, router.private)
	assert.Equal(t, []string{"g1"}, router.groups)
	assert.True(t, cap.shown[0].Closed())
	assert.True(t, cap.shown[1].Closed())
}

func TestDispatch_AutoDismiss(t *testing.T) {
	cap := &fakeCapability{state: PermissionGranted}
	d := NewDispatcher(cap, nil, WithAutoDismiss(20*time.Millisecond))

	require.NoError(t, d.Dispatch(context.Background(), privateMsg("hi")))
	require.Len(t, cap.shown, 1)

	assert.Eventually(t, cap.shown[0].Closed, time.Second, 10*time.Millisecond)
}
