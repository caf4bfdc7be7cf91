package cas

import (
	"crypto/rand"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"
)

const (
	/* Number of characters from the set [a-zA-Z0-9] = 62. 62^32 = 2 x 10^57, which is 190 bits of entropy.
	Assume there will be 1 million live tickets. That removes 20 bits of entropy, leaving 170 bits.
	Divide 170 by 2 and we have a security level of 85 bits. Tickets are also short-lived (minutes),
	so an attacker has a tiny window in which to guess.
	*/
	DefaultTicketRandLength = 32

	DefaultTicketExpiry = 5 * time.Minute
)

const ticketCorpus = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// TicketKind discriminates the three ticket variants. Per-kind behavior
// (prefix, whether renew/primary applies) lives in kindTable, not in
// per-kind types.
type TicketKind int

const (
	TicketST  TicketKind = iota // Service Ticket
	TicketPT                    // Proxy Ticket
	TicketPGT                   // Proxy-Granting Ticket
)

type kindInfo struct {
	prefix string
	// primaryApplies is true for kinds that record whether the ticket was
	// issued from a fresh credential presentation (the 'renew' check).
	primaryApplies bool
}

var kindTable = map[TicketKind]kindInfo{
	TicketST:  {prefix: "ST", primaryApplies: true},
	TicketPT:  {prefix: "PT", primaryApplies: false},
	TicketPGT: {prefix: "PGT", primaryApplies: false},
}

const iouPrefix = "PGTIOU"

func (k TicketKind) String() string {
	if info, ok := kindTable[k]; ok {
		return info.prefix
	}
	return "?"
}

/*
Ticket is the single entity behind all three ticket kinds. Shared fields are
always populated; the kind-specific fields are only meaningful for the kinds
noted below.

A ticket is expired once now >= CreatedAt + expiry. Expiry and consumption
are independent predicates; a ticket is unusable if either holds. ConsumedAt
is set exactly once and never cleared.
*/
type Ticket struct {
	Ticket     string     // Unique opaque ticket string, e.g. "ST-1700000000-a1b2..."
	Kind       TicketKind
	UserId     string     // Opaque identifier owned by the credential subsystem
	CreatedAt  time.Time
	ConsumedAt *time.Time // nil while the ticket is live

	Service   string // ST, PT: normalized service URL (scheme+host+port+path, no query/fragment)
	IsPrimary bool   // ST: issued from fresh credential presentation, not an existing session

	GrantedByPGT string // PT: ticket string of the PGT that authorized it

	IOU         string // PGT: opaque confirmation value (PGTIOU-...) returned synchronously
	GrantedByST string // PGT: the validated ST that justified minting it
	GrantedByPT string // PGT: the validated PT that justified minting it (mutually exclusive with GrantedByST)
}

func (t *Ticket) Consumed() bool {
	return t.ConsumedAt != nil
}

func (t *Ticket) Expired(now time.Time, expiry time.Duration) bool {
	return !now.Before(t.CreatedAt.Add(expiry))
}

// ticketFormats holds the compiled per-kind format regexes. The random
// segment length is configurable, and the regexes are derived from it here,
// so the generator and the matcher cannot drift apart.
type ticketFormats struct {
	randLength int
	byKind     map[TicketKind]*regexp.Regexp
	iou        *regexp.Regexp
}

func newTicketFormats(randLength int) *ticketFormats {
	if randLength <= 0 {
		randLength = DefaultTicketRandLength
	}
	f := &ticketFormats{
		randLength: randLength,
		byKind:     map[TicketKind]*regexp.Regexp{},
	}
	for kind, info := range kindTable {
		f.byKind[kind] = compileTicketRegex(info.prefix, randLength)
	}
	f.iou = compileTicketRegex(iouPrefix, randLength)
	return f
}

func compileTicketRegex(prefix string, randLength int) *regexp.Regexp {
	return regexp.MustCompile("^" + prefix + `-[0-9]{10,}-[A-Za-z0-9]{` + strconv.Itoa(randLength) + `}$`)
}

func (f *ticketFormats) match(kind TicketKind, ticket string) bool {
	return f.byKind[kind].MatchString(ticket)
}

// generate produces "<PREFIX>-<unix seconds>-<random alphanumeric>".
func (f *ticketFormats) generate(kind TicketKind) string {
	return generateTicketString(kindTable[kind].prefix, f.randLength)
}

func (f *ticketFormats) generateIOU() string {
	return generateTicketString(iouPrefix, f.randLength)
}

func generateTicketString(prefix string, randLength int) string {
	return fmt.Sprintf("%v-%v-%v", prefix, time.Now().Unix(), RandomString(randLength, ticketCorpus))
}

// RandomString returns a random string of 'nchars' bytes, sampled uniformly from the given corpus of byte characters.
func RandomString(nchars int, corpus string) string {
	rbytes := make([]byte, nchars)
	rstring := make([]byte, nchars)
	rand.Read(rbytes)
	for i := 0; i < nchars; i++ {
		rstring[i] = corpus[rbytes[i]%byte(len(corpus))]
	}
	return string(rstring)
}

// NormalizeService strips the query string and fragment from a service URL,
// keeping scheme, host, port and path. Tickets store the normalized form,
// so "http://a/x?extra=1" and "http://a/x" name the same service.
func NormalizeService(service string) string {
	u, err := url.Parse(service)
	if err != nil {
		return service
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// SameOrigin reports whether two URLs share scheme, host and port.
// Path and query play no part in origin comparison.
func SameOrigin(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host
}
