package cas

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func makeTestTicket(ticket, userId string) *Ticket {
	return &Ticket{
		Ticket:    ticket,
		Kind:      TicketST,
		UserId:    userId,
		CreatedAt: time.Now(),
		Service:   "http://svc.example.com/",
	}
}

func TestStoreBasics(t *testing.T) {
	store := makeTicketStore(t)
	defer store.Close()

	formats := newTicketFormats(DefaultTicketRandLength)
	ticket := formats.generate(TicketST)
	assert.NoError(t, store.Create(makeTestTicket(ticket, "u1")))
	assert.Error(t, store.Create(makeTestTicket(ticket, "u1")), "duplicate ticket strings must be rejected")

	got, err := store.Get(ticket)
	assert.NoError(t, err)
	assert.Equal(t, ticket, got.Ticket)
	assert.Equal(t, "u1", got.UserId)
	assert.False(t, got.Consumed())

	_, err = store.Get(formats.generate(TicketST))
	assert.Equal(t, ErrTicketNotFound, err)
}

func TestStoreAtomicConsumeConcurrent(t *testing.T) {
	store := makeTicketStore(t)
	defer store.Close()

	formats := newTicketFormats(DefaultTicketRandLength)
	ticket := formats.generate(TicketST)
	assert.NoError(t, store.Create(makeTestTicket(ticket, "u1")))

	// Exactly one of N concurrent consumers may observe a live ticket.
	nthreads := 32
	winners := uint32(0)
	wg := sync.WaitGroup{}
	for i := 0; i < nthreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, alreadyConsumed, err := store.AtomicConsume(ticket, time.Now())
			if assert.NoError(t, err) && !alreadyConsumed {
				atomic.AddUint32(&winners, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint32(1), winners)

	got, err := store.Get(ticket)
	assert.NoError(t, err)
	assert.True(t, got.Consumed())

	_, _, err = store.AtomicConsume(formats.generate(TicketST), time.Now())
	assert.Equal(t, ErrTicketNotFound, err)
}

func TestStoreDeleteInvalid(t *testing.T) {
	store := makeTicketStore(t)
	defer store.Close()

	expiry := 5 * time.Minute
	now := time.Now()
	formats := newTicketFormats(DefaultTicketRandLength)

	live := makeTestTicket(formats.generate(TicketST), "u1")
	consumed := makeTestTicket(formats.generate(TicketST), "u1")
	stale := makeTestTicket(formats.generate(TicketST), "u1")
	stale.CreatedAt = now.Add(-2 * expiry)

	assert.NoError(t, store.Create(live))
	assert.NoError(t, store.Create(consumed))
	assert.NoError(t, store.Create(stale))
	_, _, err := store.AtomicConsume(consumed.Ticket, now)
	assert.NoError(t, err)

	deleted, err := store.DeleteInvalid(now, expiry)
	assert.NoError(t, err)
	assert.Equal(t, 2, deleted)

	// Nothing more to delete on a second run
	deleted, err = store.DeleteInvalid(now, expiry)
	assert.NoError(t, err)
	assert.Equal(t, 0, deleted)

	_, err = store.Get(live.Ticket)
	assert.NoError(t, err)
	_, err = store.Get(consumed.Ticket)
	assert.Equal(t, ErrTicketNotFound, err)
	_, err = store.Get(stale.Ticket)
	assert.Equal(t, ErrTicketNotFound, err)
}

func TestStoreConsumeAllForUser(t *testing.T) {
	store := makeTicketStore(t)
	defer store.Close()

	formats := newTicketFormats(DefaultTicketRandLength)
	joe1 := makeTestTicket(formats.generate(TicketST), "joe")
	joe2 := makeTestTicket(formats.generate(TicketPT), "joe")
	joe2.Kind = TicketPT
	jack := makeTestTicket(formats.generate(TicketST), "jack")
	assert.NoError(t, store.Create(joe1))
	assert.NoError(t, store.Create(joe2))
	assert.NoError(t, store.Create(jack))

	list, err := store.ListByUser("joe")
	assert.NoError(t, err)
	assert.Equal(t, 2, len(list))

	assert.NoError(t, store.ConsumeAllForUser("joe", time.Now()))

	list, err = store.ListByUser("joe")
	assert.NoError(t, err)
	for _, ticket := range list {
		assert.True(t, ticket.Consumed())
	}

	got, err := store.Get(jack.Ticket)
	assert.NoError(t, err)
	assert.False(t, got.Consumed(), "other users' tickets are untouched")
}
