package domain

// Subscription is a live stream of records. Unsubscribe releases the
// underlying topic; Done, when set, is closed once it is released.
type Subscription[T any] struct {
	Stream      chan T
	Unsubscribe func()
	Done        <-chan struct{}
	Topic       string
}
