package bus

// EventBus is the seam the broker depends on instead of a concrete
// *Bus, so the pub/sub fabric is an explicit handle
// threaded through construction rather than a process-lifetime
// singleton. *Bus implements it directly.
type EventBus interface {
	Subscribe(id uint32, bufSize int) *Client
	Unsubscribe(c *Client)
	Publish(ev Event)
}

var _ EventBus = (*Bus)(nil)
