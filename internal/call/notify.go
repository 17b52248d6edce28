package call

import "github.com/1ureka/duocall/internal/util"

// Subscribe returns a stream of updates. Updates are dropped for a
// subscriber that falls behind; every update carries the full state.
func (c *Coordinator) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 32)

	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	return ch, func() {
		c.subsMu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.subsMu.Unlock()
	}
}

// notify publishes the current state. It must be called without c.mu held.
func (c *Coordinator) notify(n *Notice) {
	if n != nil {
		util.LogWarning("%s: %s", n.Kind, n.Message)
	}
	u := Update{State: c.Snapshot(), Notice: n}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- u:
		default:
			util.LogDebug("call update dropped for a slow subscriber")
		}
	}
}

func (c *Coordinator) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
}
