package swap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ggonzalez94/xswap/internal/model"
)

type updateLog struct {
	mu      sync.Mutex
	updates []model.StatusUpdate
	ch      chan model.StatusUpdate
}

func newUpdateLog() *updateLog {
	return &updateLog{ch: make(chan model.StatusUpdate, 64)}
}

func (l *updateLog) record(u model.StatusUpdate) {
	l.mu.Lock()
	l.updates = append(l.updates, u)
	l.mu.Unlock()
	l.ch <- u
}

func (l *updateLog) all() []model.StatusUpdate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.StatusUpdate(nil), l.updates...)
}

type pollCounter struct {
	mu     sync.Mutex
	ok     int
	failed int
}

func (p *pollCounter) ObservePoll(_ model.OrderStatus, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.failed++
		return
	}
	p.ok++
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("tracker did not stop")
	}
}

func statuses(updates []model.StatusUpdate) []model.OrderStatus {
	out := make([]model.OrderStatus, 0, len(updates))
	for _, u := range updates {
		out = append(out, u.Status)
	}
	return out
}

func TestTrackStopsAtTerminalStatus(t *testing.T) {
	provider := &fakeProvider{statuses: []statusReply{
		{status: model.OrderStatusCreated},
		{status: model.OrderStatusSentUnlock},
		{status: model.OrderStatusClaimedUnlock},
	}}
	polls := &pollCounter{}
	tracker := NewTracker(provider, newTestScheduler(t), WithPollInterval(5*time.Millisecond), WithPollObserver(polls))
	log := newUpdateLog()

	h, err := tracker.Track(context.Background(), testOrderID, log.record)
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, []model.OrderStatus{
		model.OrderStatusCreated,
		model.OrderStatusSentUnlock,
		model.OrderStatusClaimedUnlock,
	}, statuses(log.all()))
	_, fetched, _ := provider.counts()
	assert.Equal(t, 3, fetched)
	assert.Equal(t, 3, polls.ok)

	current, ok := tracker.Current(testOrderID)
	require.True(t, ok)
	assert.Equal(t, model.OrderStatusClaimedUnlock, current)
	assert.Len(t, tracker.History(testOrderID), 3)
	assert.False(t, tracker.Active(testOrderID))
}

func TestTrackReportsRepeatedStatuses(t *testing.T) {
	provider := &fakeProvider{statuses: []statusReply{
		{status: model.OrderStatusCreated},
		{status: model.OrderStatusCreated},
		{status: model.OrderStatusFulfilled},
	}}
	tracker := NewTracker(provider, newTestScheduler(t), WithPollInterval(5*time.Millisecond))
	log := newUpdateLog()

	h, err := tracker.Track(context.Background(), testOrderID, log.record)
	require.NoError(t, err)
	waitDone(t, h)

	updates := log.all()
	require.Len(t, updates, 3)
	for i, u := range updates {
		assert.Equal(t, i+1, u.Poll)
	}
}

func TestTrackContinuesAfterPollFailure(t *testing.T) {
	outage := errors.New("connection reset")
	provider := &fakeProvider{statuses: []statusReply{
		{status: model.OrderStatusCreated},
		{err: outage},
		{err: outage},
		{status: model.OrderStatusFulfilled},
	}}
	polls := &pollCounter{}
	tracker := NewTracker(provider, newTestScheduler(t), WithPollInterval(5*time.Millisecond), WithPollObserver(polls))
	log := newUpdateLog()

	h, err := tracker.Track(context.Background(), testOrderID, log.record)
	require.NoError(t, err)
	waitDone(t, h)

	updates := log.all()
	require.Len(t, updates, 4)
	assert.False(t, updates[0].Failed())
	assert.True(t, updates[1].Failed())
	assert.Equal(t, model.OrderStatusCreated, updates[1].Status)
	assert.Contains(t, updates[2].Error, "connection reset")
	assert.Equal(t, model.OrderStatusFulfilled, updates[3].Status)
	assert.Equal(t, 2, polls.failed)
}

func TestTrackNeverRegressesFromTerminal(t *testing.T) {
	scripts := [][]model.OrderStatus{
		{model.OrderStatusCreated, model.OrderStatusSentOrderCancel, model.OrderStatusClaimedOrderCancel},
		{model.OrderStatusCreated},
		{model.OrderStatusSentUnlock},
		{model.OrderStatusFulfilled},
	}
	provider := &fakeProvider{}
	store := NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), model.Order{OrderID: testOrderID, Status: model.OrderStatusCreated}))
	tracker := NewTracker(provider, newTestScheduler(t), WithPollInterval(time.Millisecond), WithTrackerStore(store))

	for _, script := range scripts {
		replies := make([]statusReply, 0, len(script))
		for _, s := range script {
			replies = append(replies, statusReply{status: s})
		}
		provider.mu.Lock()
		provider.statuses = replies
		provider.mu.Unlock()

		h, err := tracker.Track(context.Background(), testOrderID, nil)
		require.NoError(t, err)
		waitDone(t, h)
	}

	history := tracker.History(testOrderID)
	terminal := false
	for _, u := range history {
		if terminal {
			assert.True(t, u.Status.Terminal(), "status regressed to %s", u.Status)
		}
		terminal = terminal || u.Status.Terminal()
	}
	current, _ := tracker.Current(testOrderID)
	assert.Equal(t, model.OrderStatusClaimedOrderCancel, current)

	stored, err := store.Get(context.Background(), testOrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusClaimedOrderCancel, stored.Status)
}

func TestTrackCancelStopsPolling(t *testing.T) {
	provider := &fakeProvider{statuses: []statusReply{{status: model.OrderStatusCreated}}}
	tracker := NewTracker(provider, newTestScheduler(t), WithPollInterval(time.Hour))
	log := newUpdateLog()

	h, err := tracker.Track(context.Background(), testOrderID, log.record)
	require.NoError(t, err)
	<-log.ch
	h.Cancel()
	waitDone(t, h)

	_, fetched, _ := provider.counts()
	assert.Equal(t, 1, fetched)
	assert.False(t, tracker.Active(testOrderID))
}

func TestTrackReplacesActiveSession(t *testing.T) {
	provider := &fakeProvider{statuses: []statusReply{{status: model.OrderStatusCreated}}}
	tracker := NewTracker(provider, newTestScheduler(t), WithPollInterval(time.Hour))
	first := newUpdateLog()
	second := newUpdateLog()

	h1, err := tracker.Track(context.Background(), testOrderID, first.record)
	require.NoError(t, err)
	<-first.ch

	h2, err := tracker.Track(context.Background(), testOrderID, second.record)
	require.NoError(t, err)
	waitDone(t, h1)
	<-second.ch

	assert.True(t, tracker.Active(testOrderID))
	assert.Len(t, first.all(), 1)
	h2.Cancel()
	waitDone(t, h2)
}

func TestTrackRejectsMalformedOrderID(t *testing.T) {
	tracker := NewTracker(&fakeProvider{}, newTestScheduler(t))
	_, err := tracker.Track(context.Background(), "0xabc", nil)
	assert.Error(t, err)
}
