package core

import (
	"context"
	"sync"
	"time"

	"github.com/encodeous/meshlink/state"
	"github.com/jellydator/ttlcache/v3"
)

// ConnectFuture is the result of an outgoing handshake. It completes exactly once.
type ConnectFuture struct {
	info state.ChannelInfo
	once sync.Once
	done chan struct{}
	uid  state.UUID
	err  error
}

func newConnectFuture(info state.ChannelInfo) *ConnectFuture {
	return &ConnectFuture{
		info: info,
		done: make(chan struct{}),
	}
}

func (f *ConnectFuture) Info() state.ChannelInfo {
	return f.info
}

// Done is closed once the result is available
func (f *ConnectFuture) Done() <-chan struct{} {
	return f.done
}

// Result returns the peer id, or the reason the connect failed. It must only be called after Done is closed.
func (f *ConnectFuture) Result() (state.UUID, error) {
	<-f.done
	return f.uid, f.err
}

// Wait blocks until the future completes or ctx is done
func (f *ConnectFuture) Wait(ctx context.Context) (state.UUID, error) {
	select {
	case <-f.done:
		return f.uid, f.err
	case <-ctx.Done():
		return state.EmptyUUID, ctx.Err()
	}
}

func (f *ConnectFuture) resolve(uid state.UUID, err error) bool {
	ok := false
	f.once.Do(func() {
		f.uid = uid
		f.err = err
		close(f.done)
		ok = true
	})
	return ok
}

// connectFutures tracks pending handshakes by channel id. Entries that outlive the ttl fail with
// ErrHandshakeTimeout.
type connectFutures struct {
	cache *ttlcache.Cache[uint16, *ConnectFuture]
}

func newConnectFutures(ttl time.Duration) *connectFutures {
	cache := ttlcache.New[uint16, *ConnectFuture](
		ttlcache.WithTTL[uint16, *ConnectFuture](ttl),
		ttlcache.WithDisableTouchOnHit[uint16, *ConnectFuture](),
	)
	cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[uint16, *ConnectFuture]) {
		if reason == ttlcache.EvictionReasonExpired {
			item.Value().resolve(state.EmptyUUID, ErrHandshakeTimeout)
		}
	})
	return &connectFutures{cache: cache}
}

// add registers a new pending future. A future already pending on the same channel belongs to a previous
// connection and fails.
func (c *connectFutures) add(info state.ChannelInfo) *ConnectFuture {
	if old, ok := c.cache.GetAndDelete(info.Id); ok {
		old.Value().resolve(state.EmptyUUID, ErrChannelClosed)
	}
	f := newConnectFuture(info)
	c.cache.Set(info.Id, f, ttlcache.DefaultTTL)
	return f
}

// resolve completes the pending future of a channel, if any
func (c *connectFutures) resolve(channelId uint16, uid state.UUID, err error) bool {
	item, ok := c.cache.GetAndDelete(channelId)
	if !ok {
		return false
	}
	return item.Value().resolve(uid, err)
}

func (c *connectFutures) pending() int {
	return c.cache.Len()
}

// expire fails every future past its deadline
func (c *connectFutures) expire() {
	c.cache.DeleteExpired()
}

// closeAll fails every pending future with err
func (c *connectFutures) closeAll(err error) {
	for _, id := range c.cache.Keys() {
		c.resolve(id, state.EmptyUUID, err)
	}
}
