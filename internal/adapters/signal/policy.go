package signal

import "github.com/dkeye/securecall/internal/domain"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropEvent
	Disconnect
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackpressure(user domain.UserID, dropped int) BackpressureAction
}

// SimplePolicy drops the first events and disconnects clients that keep lagging.
type SimplePolicy struct {
	MaxDropped int
}

func (p SimplePolicy) OnBackpressure(_ domain.UserID, dropped int) BackpressureAction {
	if dropped > p.MaxDropped {
		return Disconnect
	}
	return DropEvent
}
