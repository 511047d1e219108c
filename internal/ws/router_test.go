package ws

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/damoang/angple-chat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id     string
	userID uint64
	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func (f *fakeConn) ID() string     { return f.id }
func (f *fakeConn) UserID() uint64 { return f.userID }
func (f *fakeConn) Enqueue(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.frames = append(f.frames, data)
	return true
}

func (f *fakeConn) types(t *testing.T) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []string{}
	for _, raw := range f.frames {
		var ev domain.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		out = append(out, ev.Type)
	}
	return out
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "user:5", UserKey(5))
	assert.Equal(t, "tenant:acme", TenantKey("acme"))
	assert.Equal(t, "tenant:-", TenantKey(""))
	assert.Equal(t, "group:12", GroupKey(12))
}

func TestRouter_PublishExcludesSender(t *testing.T) {
	r := NewRouter()
	a := &fakeConn{id: "a", userID: 1}
	b := &fakeConn{id: "b", userID: 2}
	r.Attach(a)
	r.Attach(b)
	r.Subscribe("a", GroupKey(1))
	r.Subscribe("b", GroupKey(1))

	n := r.Publish(GroupKey(1), domain.NewEvent(domain.EventNewMessage, nil), "a")
	assert.Equal(t, 1, n)
	assert.Empty(t, a.types(t))
	assert.Equal(t, []string{domain.EventNewMessage}, b.types(t))
}

func TestRouter_SubscribeUserMovesAllDevices(t *testing.T) {
	r := NewRouter()
	phone := &fakeConn{id: "phone", userID: 7}
	laptop := &fakeConn{id: "laptop", userID: 7}
	other := &fakeConn{id: "other", userID: 8}
	r.Attach(phone)
	r.Attach(laptop)
	r.Attach(other)

	assert.Equal(t, 2, r.SubscribeUser(7, GroupKey(3)))
	assert.ElementsMatch(t, []string{"phone", "laptop"}, r.Subscribers(GroupKey(3)))

	r.UnsubscribeUser(7, GroupKey(3))
	assert.Empty(t, r.Subscribers(GroupKey(3)))
}

func TestRouter_DetachRemovesEverything(t *testing.T) {
	r := NewRouter()
	a := &fakeConn{id: "a", userID: 1}
	r.Attach(a)
	r.Subscribe("a", UserKey(1))
	r.Subscribe("a", TenantKey("acme"))

	r.Detach("a")
	assert.False(t, r.IsSubscribed("a", UserKey(1)))
	assert.Equal(t, 0, r.Publish(TenantKey("acme"), domain.NewEvent("x", nil), ""))
	assert.False(t, r.SendTo("a", domain.NewEvent("x", nil)))
	assert.False(t, r.Subscribe("a", UserKey(1)))
	assert.Equal(t, 0, r.SubscribeUser(1, GroupKey(1)))
}

func TestRouter_FullBufferDropsWithoutBlocking(t *testing.T) {
	r := NewRouter()
	slow := &fakeConn{id: "slow", userID: 1, full: true}
	fast := &fakeConn{id: "fast", userID: 2}
	r.Attach(slow)
	r.Attach(fast)
	r.Subscribe("slow", TenantKey("t"))
	r.Subscribe("fast", TenantKey("t"))

	assert.Equal(t, 1, r.Publish(TenantKey("t"), domain.NewEvent(domain.EventUserOnline, nil), ""))
	assert.Equal(t, []string{domain.EventUserOnline}, fast.types(t))
}

func TestRouter_ConcurrentPublishAndDetach(t *testing.T) {
	r := NewRouter()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		c := &fakeConn{id: string(rune('A' + i)), userID: uint64(i)}
		r.Attach(c)
		r.Subscribe(c.id, "k")
	}
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Publish("k", domain.NewEvent("x", nil), "")
		}()
		go func(i int) {
			defer wg.Done()
			r.Detach(string(rune('A' + i)))
		}(i)
	}
	wg.Wait()
	assert.Empty(t, r.Subscribers("k"))
}

type closingConn struct {
	fakeConn
	closed bool
}

func (c *closingConn) Close() { c.closed = true }

func TestRouter_CloseAll(t *testing.T) {
	r := NewRouter()
	a := &closingConn{fakeConn: fakeConn{id: "a", userID: 1}}
	b := &fakeConn{id: "b", userID: 2}
	r.Attach(a)
	r.Attach(b)

	r.CloseAll()
	assert.True(t, a.closed)
}
