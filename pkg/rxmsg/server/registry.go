package server

import (
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/tsarna/rxmsg/pkg/rxmsg/wire"
)

// registry maps channel names to the set of sockets subscribed to them.
// Channel entries are created and deleted under lock; membership within an
// entry is updated concurrently.
type registry struct {
	lock     sync.RWMutex
	channels *haxmap.Map[string, *haxmap.Map[string, *wire.Socket]]
}

func newRegistry() *registry {
	return &registry{
		channels: haxmap.New[string, *haxmap.Map[string, *wire.Socket]](),
	}
}

// add subscribes sock to channel and returns the new member count.
func (r *registry) add(channel string, sock *wire.Socket) int {
	r.lock.RLock()
	members, ok := r.channels.Get(channel)
	if ok {
		members.Set(sock.ID(), sock)
		n := int(members.Len())
		r.lock.RUnlock()
		return n
	}
	r.lock.RUnlock()

	r.lock.Lock()
	defer r.lock.Unlock()
	members, ok = r.channels.Get(channel)
	if !ok {
		members = haxmap.New[string, *wire.Socket]()
		r.channels.Set(channel, members)
	}
	members.Set(sock.ID(), sock)
	return int(members.Len())
}

// remove unsubscribes sock from channel and returns the remaining member
// count. The channel entry is dropped with its last member.
func (r *registry) remove(channel string, sock *wire.Socket) int {
	r.lock.Lock()
	defer r.lock.Unlock()

	members, ok := r.channels.Get(channel)
	if !ok {
		return 0
	}
	members.Del(sock.ID())
	n := int(members.Len())
	if n == 0 {
		r.channels.Del(channel)
	}
	return n
}

// removeAll unsubscribes sock from every channel and returns the channels it
// was removed from, with their remaining member counts.
func (r *registry) removeAll(sock *wire.Socket) map[string]int {
	r.lock.Lock()
	defer r.lock.Unlock()

	var names []string
	r.channels.ForEach(func(channel string, members *haxmap.Map[string, *wire.Socket]) bool {
		if _, ok := members.Get(sock.ID()); ok {
			names = append(names, channel)
		}
		return true
	})

	removed := make(map[string]int, len(names))
	for _, channel := range names {
		members, _ := r.channels.Get(channel)
		members.Del(sock.ID())
		n := int(members.Len())
		if n == 0 {
			r.channels.Del(channel)
		}
		removed[channel] = n
	}
	return removed
}

// snapshot returns the sockets subscribed to channel at this moment.
func (r *registry) snapshot(channel string) []*wire.Socket {
	r.lock.RLock()
	defer r.lock.RUnlock()

	members, ok := r.channels.Get(channel)
	if !ok {
		return nil
	}
	out := make([]*wire.Socket, 0, members.Len())
	members.ForEach(func(_ string, sock *wire.Socket) bool {
		out = append(out, sock)
		return true
	})
	return out
}

func (r *registry) count(channel string) int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	members, ok := r.channels.Get(channel)
	if !ok {
		return 0
	}
	return int(members.Len())
}
