package cas

import (
	"sync"
	"time"
)

/*
TicketStore is a keyed store of tickets, looked up by exact ticket string.

The one hard concurrency requirement is AtomicConsume: two concurrent
consumes of the same ticket string must not both observe "not yet consumed".
Everything else is an independent per-ticket operation, safe to run
concurrently with live traffic.
*/
type TicketStore interface {
	// Create inserts a new ticket. The ticket string must be unique.
	Create(t *Ticket) error
	// Get returns the ticket, or ErrTicketNotFound.
	Get(ticket string) (*Ticket, error)
	// AtomicConsume marks the ticket consumed at 'now' and returns it.
	// If the ticket was already consumed, it is returned unchanged with
	// alreadyConsumed = true. Exactly one of two concurrent callers sees
	// alreadyConsumed = false.
	AtomicConsume(ticket string, now time.Time) (t *Ticket, alreadyConsumed bool, err error)
	// DeleteInvalid removes every ticket that is consumed, or whose age
	// exceeds 'expiry' at time 'now'. Returns the number deleted.
	// Running it twice in a row is harmless.
	DeleteInvalid(now time.Time, expiry time.Duration) (int, error)
	// ListByUser returns all tickets owned by userId, in no particular order.
	ListByUser(userId string) ([]*Ticket, error)
	// ConsumeAllForUser marks every live ticket owned by userId as consumed.
	ConsumeAllForUser(userId string, now time.Time) error
	Close() // Typically used to close a database handle
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// Ticket store that simply keeps tickets in memory
type dummyTicketStore struct {
	tickets     map[string]*Ticket
	ticketsLock sync.Mutex
}

func newDummyTicketStore() *dummyTicketStore {
	s := &dummyTicketStore{}
	s.tickets = make(map[string]*Ticket)
	return s
}

func (x *dummyTicketStore) Create(t *Ticket) error {
	x.ticketsLock.Lock()
	defer x.ticketsLock.Unlock()
	if _, exists := x.tickets[t.Ticket]; exists {
		return NewError(ErrUnsupported, "duplicate ticket "+t.Ticket)
	}
	cpy := *t
	x.tickets[t.Ticket] = &cpy
	return nil
}

func (x *dummyTicketStore) Get(ticket string) (*Ticket, error) {
	x.ticketsLock.Lock()
	defer x.ticketsLock.Unlock()
	t, exists := x.tickets[ticket]
	if !exists {
		return nil, ErrTicketNotFound
	}
	cpy := *t
	return &cpy, nil
}

func (x *dummyTicketStore) AtomicConsume(ticket string, now time.Time) (*Ticket, bool, error) {
	x.ticketsLock.Lock()
	defer x.ticketsLock.Unlock()
	t, exists := x.tickets[ticket]
	if !exists {
		return nil, false, ErrTicketNotFound
	}
	if t.ConsumedAt != nil {
		cpy := *t
		return &cpy, true, nil
	}
	when := now
	t.ConsumedAt = &when
	cpy := *t
	return &cpy, false, nil
}

func (x *dummyTicketStore) DeleteInvalid(now time.Time, expiry time.Duration) (int, error) {
	x.ticketsLock.Lock()
	defer x.ticketsLock.Unlock()
	deleted := 0
	for key, t := range x.tickets {
		if t.Consumed() || t.Expired(now, expiry) {
			delete(x.tickets, key)
			deleted++
		}
	}
	return deleted, nil
}

func (x *dummyTicketStore) ListByUser(userId string) ([]*Ticket, error) {
	x.ticketsLock.Lock()
	defer x.ticketsLock.Unlock()
	list := []*Ticket{}
	for _, t := range x.tickets {
		if t.UserId == userId {
			cpy := *t
			list = append(list, &cpy)
		}
	}
	return list, nil
}

func (x *dummyTicketStore) ConsumeAllForUser(userId string, now time.Time) error {
	x.ticketsLock.Lock()
	defer x.ticketsLock.Unlock()
	for _, t := range x.tickets {
		if t.UserId == userId && t.ConsumedAt == nil {
			when := now
			t.ConsumedAt = &when
		}
	}
	return nil
}

func (x *dummyTicketStore) Close() {
}
