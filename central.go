package cas

import (
	"net/url"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/IMQS/log"
)

const defaultCleanupIntervalSeconds = 5 * 60

type CentralStats struct {
	ValidTickets     uint64
	InvalidTickets   uint64
	TicketsIssued    uint64
	CallbackFailures uint64
	Logouts          uint64
}

func isPowerOf2(x uint64) bool {
	return 0 == x&(x-1)
}

func (x *CentralStats) IncrementAndLog(name string, val *uint64, logger *log.Logger) {
	n := atomic.AddUint64(val, 1)
	if isPowerOf2(n) || (n&255) == 0 {
		logger.Infof("%v %v", n, name)
	}
}

func (x *CentralStats) IncrementValidTicket(logger *log.Logger) {
	x.IncrementAndLog("valid tickets", &x.ValidTickets, logger)
}

func (x *CentralStats) IncrementInvalidTicket(logger *log.Logger) {
	x.IncrementAndLog("invalid tickets", &x.InvalidTickets, logger)
}

func (x *CentralStats) IncrementTicketsIssued(logger *log.Logger) {
	x.IncrementAndLog("tickets issued", &x.TicketsIssued, logger)
}

func (x *CentralStats) IncrementCallbackFailure(logger *log.Logger) {
	x.IncrementAndLog("callback failures", &x.CallbackFailures, logger)
}

func (x *CentralStats) IncrementLogout(logger *log.Logger) {
	x.IncrementAndLog("logouts", &x.Logouts, logger)
}

/*
Central is the single hub of the ticket engine that you interact with.
All public methods of Central are callable from multiple threads.

The engine is stateless between requests except for the ticket store; each
validation or issuance is an independent unit of work.
*/
type Central struct {
	// Stats must be first so that we are guaranteed to get it 8-byte aligned. We atomically
	// increment counters inside CentralStats, and the atomic functions need 8-byte alignment
	// on their operands.
	Stats        CentralStats
	Log          *log.Logger
	TicketExpiry time.Duration

	ticketStore         TicketStore
	userStore           UserStore
	authorizers         *AuthorizerChain
	httpsClient         HTTPSClient
	formats             *ticketFormats
	shuttingDown        uint32
	cleanupInterval     time.Duration
	cleanupStopRequest  chan bool
	cleanupStopResponse chan bool
	cleanupEnabled      bool
}

// Create a new Central object from the specified pieces.
// authorizers may be nil, in which case the permissive default policy applies.
func NewCentral(logfile string, ticketStore TicketStore, userStore UserStore, authorizers *AuthorizerChain, httpsClient HTTPSClient) *Central {
	c := &Central{}
	c.ticketStore = ticketStore
	c.userStore = userStore
	if authorizers == nil {
		authorizers = NewAuthorizerChain()
	}
	c.authorizers = authorizers
	if httpsClient == nil {
		httpsClient = NewHTTPSClient(DefaultCallbackTimeout)
	}
	c.httpsClient = httpsClient
	c.TicketExpiry = DefaultTicketExpiry
	c.formats = newTicketFormats(DefaultTicketRandLength)
	c.cleanupInterval = defaultCleanupIntervalSeconds * time.Second

	// We don't want logging to stdout when the service is running on a windows
	// machine. This decision was made to avoid having to bloat the service with
	// unnecessary config
	c.Log = log.New(resolveLogfile(logfile), runtime.GOOS != "windows")

	if len(authorizers.backends) == 0 {
		c.Log.Warnf("No service policy configured: all services may validate tickets, proxying is disabled. This is a permissive fallback, not validation.")
	}
	c.Log.Infof("CAS ticket engine successfully started up")

	return c
}

// Create a new 'Central' object from a Config.
func NewCentralFromConfig(config *Config) (*Central, error) {
	startupLogger := log.New(resolveLogfile(config.Log.Filename), runtime.GOOS != "windows")

	var ticketStore TicketStore
	var userStore UserStore
	if config.TicketDB.Host != "" {
		db, err := config.TicketDB.Connect()
		if err != nil {
			startupLogger.Errorf("Error connecting to TicketDB: %v", err)
			return nil, NewError(ErrConnect, err.Error())
		}
		if ticketStore, err = NewTicketStoreDB_SQL(db); err != nil {
			return nil, err
		}
		if userStore, err = NewUserStoreDB_SQL(db); err != nil {
			return nil, err
		}
	} else {
		startupLogger.Warnf("No TicketDB configured, using in-memory stores. Tickets will not survive a restart.")
		ticketStore = newDummyTicketStore()
		userStore = newDummyUserStore()
	}

	var chain *AuthorizerChain
	if len(config.Authorization.Services) != 0 {
		configAuth, err := NewConfigAuthorizer(config.Authorization.Services, startupLogger)
		if err != nil {
			return nil, err
		}
		chain = NewAuthorizerChain(configAuth)
	}

	client := NewHTTPSClient(time.Duration(config.Callback.TimeoutSeconds) * time.Second)

	c := NewCentral(config.Log.Filename, ticketStore, userStore, chain, client)
	if config.Ticket.ExpiryMinutes > 0 {
		c.TicketExpiry = time.Duration(config.Ticket.ExpiryMinutes) * time.Minute
	}
	c.formats = newTicketFormats(config.Ticket.RandLength)
	c.Log.Infof("Tickets expire after %v", c.TicketExpiry)
	return c, nil
}

func resolveLogfile(logfile string) string {
	if logfile != "" {
		return logfile
	}
	return log.Stdout
}

// GetUser resolves an identity against the configured user store.
func (x *Central) GetUser(identity string) (*User, error) {
	return x.userStore.GetUser(identity)
}

// AuthenticateUser verifies an identity/password against the configured user store.
func (x *Central) AuthenticateUser(identity, password string) error {
	return x.userStore.Authenticate(identity, password)
}

// Authorizers exposes the authorization chain, for handlers that need to
// answer policy questions directly.
func (x *Central) Authorizers() *AuthorizerChain {
	return x.authorizers
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// Ticket issuance

// CreateServiceTicket mints a new ST for userId against the given service.
// 'primary' records whether this login came from a fresh credential
// presentation, which is what a later 'renew' validation asks about.
func (x *Central) CreateServiceTicket(userId, service string, primary bool) (*Ticket, error) {
	t := &Ticket{
		Ticket:    x.formats.generate(TicketST),
		Kind:      TicketST,
		UserId:    userId,
		CreatedAt: time.Now(),
		Service:   NormalizeService(service),
		IsPrimary: primary,
	}
	return x.storeNewTicket(t)
}

// CreateProxyTicket mints a new PT authorized by a validated PGT.
func (x *Central) CreateProxyTicket(service string, pgt *Ticket) (*Ticket, error) {
	t := &Ticket{
		Ticket:       x.formats.generate(TicketPT),
		Kind:         TicketPT,
		UserId:       pgt.UserId,
		CreatedAt:    time.Now(),
		Service:      NormalizeService(service),
		GrantedByPGT: pgt.Ticket,
	}
	return x.storeNewTicket(t)
}

func (x *Central) storeNewTicket(t *Ticket) (*Ticket, error) {
	if err := x.ticketStore.Create(t); err != nil {
		x.Log.Errorf("Ticket store insert failed (%v) (%v)", t.Ticket, err)
		return nil, newInternalError("ticket store failure: %v", err)
	}
	x.Stats.IncrementTicketsIssued(x.Log)
	return t, nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// Ticket validation

// ValidateServiceTicket validates an ST (the /serviceValidate contract).
func (x *Central) ValidateServiceTicket(ticketStr, service string, renew bool) (*Ticket, error) {
	return x.validateTicket(ticketStr, service, renew, TicketST)
}

// ValidateProxyTicket validates an ST or a PT (the /proxyValidate contract).
func (x *Central) ValidateProxyTicket(ticketStr, service string, renew bool) (*Ticket, error) {
	return x.validateTicket(ticketStr, service, renew, TicketST, TicketPT)
}

/*
validateTicket is the ST/PT state machine. The order of these checks is part
of the protocol's observable behavior and must not be rearranged: callers
distinguish "no service" from "bad ticket" from "bad service", and the
ticket is consumed before any service-related check. In particular, a caller
who forgot the service parameter will find their ticket already burned.
That is an anti-replay measure, not an oversight.
*/
func (x *Central) validateTicket(ticketStr, service string, renew bool, kinds ...TicketKind) (*Ticket, error) {
	if ticketStr == "" {
		return nil, newInvalidRequest("ticket parameter is required")
	}

	matched := false
	for _, kind := range kinds {
		if x.formats.match(kind, ticketStr) {
			matched = true
			break
		}
	}
	if !matched {
		x.Stats.IncrementInvalidTicket(x.Log)
		return nil, newInvalidTicket("ticket %v is not valid", ticketStr)
	}

	t, alreadyConsumed, err := x.ticketStore.AtomicConsume(ticketStr, time.Now())
	if err == ErrTicketNotFound {
		x.Stats.IncrementInvalidTicket(x.Log)
		return nil, newInvalidTicket("ticket %v does not exist", ticketStr)
	} else if err != nil {
		x.Log.Errorf("Ticket store consume failed (%v) (%v)", ticketStr, err)
		return nil, newInternalError("ticket store failure: %v", err)
	}
	if alreadyConsumed {
		x.Stats.IncrementInvalidTicket(x.Log)
		return nil, newInvalidTicket("ticket %v has already been used", ticketStr)
	}

	// The ticket is burned from here on, whatever the outcome below.

	if t.Expired(time.Now(), x.TicketExpiry) {
		x.Stats.IncrementInvalidTicket(x.Log)
		return nil, newInvalidTicket("ticket %v has expired", ticketStr)
	}

	if service == "" {
		return nil, newInvalidRequest("service parameter is required")
	}

	allowed, err := x.authorizers.ServiceAllowed(service)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, newInvalidService("service %v is not authorized", service)
	}

	if !SameOrigin(t.Service, service) {
		return nil, newInvalidService("ticket %v was issued for a different service", ticketStr)
	}

	if renew && t.Kind == TicketST && !t.IsPrimary {
		x.Stats.IncrementInvalidTicket(x.Log)
		return nil, newInvalidTicket("ticket %v was not issued from primary credentials", ticketStr)
	}

	x.Stats.IncrementValidTicket(x.Log)
	return t, nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// Proxy-granting tickets

// CreateProxyGrantingTicket mints a PGT on behalf of the service that just
// validated 'grantedBy', delivering the PGT via the verified HTTPS callback
// and returning it (with its IOU) to the caller. Failure here is non-fatal
// to the enclosing validation: the caller proceeds as if no pgtUrl had been
// supplied.
func (x *Central) CreateProxyGrantingTicket(callbackURL string, grantedBy *Ticket) (*Ticket, error) {
	return x.createProxyGrantingTicket(callbackURL, grantedBy, true)
}

// The validate=false path skips callback verification. It exists for test
// and bootstrap paths only, which is why it is not exported.
func (x *Central) createProxyGrantingTicket(callbackURL string, grantedBy *Ticket, validate bool) (*Ticket, error) {
	if callbackURL == "" {
		return nil, newInvalidRequest("pgtUrl parameter is required")
	}

	// Both strings must exist before the callback is contacted, since both
	// are sent to the callback. Persisting waits until the callback has
	// answered: generate ids, call out, persist. Never persist-then-call.
	pgtId := x.formats.generate(TicketPGT)
	pgtIou := x.formats.generateIOU()

	if validate {
		allowed, err := x.authorizers.ProxyCallbackAllowed(grantedBy.Service, callbackURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			x.Stats.IncrementCallbackFailure(x.Log)
			return nil, newInternalError("proxy callback %v is not authorized for service %v", callbackURL, grantedBy.Service)
		}
		if err := verifyProxyCallback(x.httpsClient, callbackURL, pgtId, pgtIou); err != nil {
			x.Stats.IncrementCallbackFailure(x.Log)
			x.Log.Warnf("Proxy callback verification failed (%v) (%v)", callbackURL, err)
			return nil, err
		}
	}

	t := &Ticket{
		Ticket:    pgtId,
		Kind:      TicketPGT,
		UserId:    grantedBy.UserId,
		CreatedAt: time.Now(),
		IOU:       pgtIou,
	}
	// A PGT is always granted by exactly one validated ST or PT.
	if grantedBy.Kind == TicketPT {
		t.GrantedByPT = grantedBy.Ticket
	} else {
		t.GrantedByST = grantedBy.Ticket
	}
	return x.storeNewTicket(t)
}

// ValidateProxyGrantingTicket checks a PGT presented to /proxy. Unlike
// ST/PT validation, a PGT is not consumed here: one PGT may mint many PTs,
// and it stays usable until it expires.
func (x *Central) ValidateProxyGrantingTicket(pgtStr, targetService string) (*Ticket, error) {
	if pgtStr == "" {
		return nil, newInvalidRequest("pgt parameter is required")
	}
	if targetService == "" {
		return nil, newInvalidRequest("targetService parameter is required")
	}
	if !x.formats.match(TicketPGT, pgtStr) {
		x.Stats.IncrementInvalidTicket(x.Log)
		return nil, newInvalidTicket("ticket %v is not valid", pgtStr)
	}
	t, err := x.ticketStore.Get(pgtStr)
	if err == ErrTicketNotFound {
		x.Stats.IncrementInvalidTicket(x.Log)
		// The protocol mandates a distinct wire code for an unknown PGT.
		return nil, newBadPGT("pgt %v does not exist", pgtStr)
	} else if err != nil {
		x.Log.Errorf("Ticket store read failed (%v) (%v)", pgtStr, err)
		return nil, newInternalError("ticket store failure: %v", err)
	}
	if t.Consumed() {
		x.Stats.IncrementInvalidTicket(x.Log)
		return nil, newInvalidTicket("pgt %v has been invalidated", pgtStr)
	}
	if t.Expired(time.Now(), x.TicketExpiry) {
		x.Stats.IncrementInvalidTicket(x.Log)
		return nil, newInvalidTicket("pgt %v has expired", pgtStr)
	}
	allowed, err := x.authorizers.ServiceAllowed(targetService)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, newInvalidService("service %v is not authorized", targetService)
	}
	return t, nil
}

// ProxyChain resolves the ordered list of services that participated in the
// delegation leading to 'pt', closest proxy first, ending at the service
// whose PGT traces back to the root ST. No sorting or deduplication: the
// traversal order is the wire order, even if a proxy appears twice.
func (x *Central) ProxyChain(pt *Ticket) ([]string, error) {
	proxies := []string{pt.Service}
	cur := pt
	for cur.GrantedByPGT != "" {
		pgt, err := x.ticketStore.Get(cur.GrantedByPGT)
		if err != nil {
			x.Log.Errorf("Proxy chain walk failed at %v (%v)", cur.GrantedByPGT, err)
			return nil, newInternalError("broken proxy chain at %v: %v", cur.GrantedByPGT, err)
		}
		if pgt.GrantedByPT == "" {
			// This PGT was granted by the root ST.
			break
		}
		parent, err := x.ticketStore.Get(pgt.GrantedByPT)
		if err != nil {
			x.Log.Errorf("Proxy chain walk failed at %v (%v)", pgt.GrantedByPT, err)
			return nil, newInternalError("broken proxy chain at %v: %v", pgt.GrantedByPT, err)
		}
		proxies = append(proxies, parent.Service)
		cur = parent
	}
	return proxies, nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// Attributes

// UserAttributes runs the attribute callbacks the policy names for this
// service and merges their output. An unknown callback name is a fatal
// misconfiguration, not an empty result.
func (x *Central) UserAttributes(user *User, service string) (map[string]string, error) {
	names, err := x.authorizers.Callbacks(service)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, nil
	}
	attributes := map[string]string{}
	for _, name := range names {
		cb, ok := lookupAttributeCallback(name)
		if !ok {
			return nil, NewError(ErrAttributeCallback, name)
		}
		for k, v := range cb(user, service) {
			attributes[k] = v
		}
	}
	return attributes, nil
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////
// Maintenance and logout

// DeleteInvalidTickets removes every consumed or expired ticket. Pure
// maintenance, never on the request path; safe to run concurrently with
// live traffic, and running it twice deletes nothing extra the second time.
func (x *Central) DeleteInvalidTickets() (int, error) {
	deleted, err := x.ticketStore.DeleteInvalid(time.Now(), x.TicketExpiry)
	if err != nil {
		x.Log.Errorf("Ticket cleanup failed (%v)", err)
		return 0, err
	}
	if deleted != 0 {
		x.Log.Infof("Ticket cleanup removed %v tickets", deleted)
	}
	return deleted, nil
}

// Logout force-consumes every live ticket owned by a user, so that no
// outstanding ticket of that session can validate afterwards.
func (x *Central) Logout(userId string) error {
	x.Stats.IncrementLogout(x.Log)
	return x.ticketStore.ConsumeAllForUser(userId, time.Now())
}

// SingleLogout performs Logout, and additionally pushes a SAML-style logout
// notice to every service that validated one of the user's tickets, if the
// policy opts that service in. Push failures are logged and do not stop the
// remaining notices.
func (x *Central) SingleLogout(userId string) error {
	tickets, err := x.ticketStore.ListByUser(userId)
	if err != nil {
		return err
	}
	if err := x.Logout(userId); err != nil {
		return err
	}
	for _, t := range tickets {
		if t.Service == "" || t.Kind == TicketPGT {
			continue
		}
		allowed, err := x.authorizers.LogoutAllowed(t.Service)
		if err != nil {
			return err
		}
		if !allowed {
			continue
		}
		dest, err := x.authorizers.LogoutURL(t.Service)
		if err != nil {
			return err
		}
		if dest == "" {
			dest = t.Service
		}
		notice := NewLogoutRequest(userId, t.Ticket)
		if status, err := x.httpsClient.PostForm(dest, url.Values{"logoutRequest": {string(notice)}}); err != nil {
			x.Log.Warnf("Single logout notice to %v failed (%v)", dest, err)
		} else if status < 200 || status >= 300 {
			x.Log.Warnf("Single logout notice to %v returned status %v", dest, status)
		}
	}
	return nil
}

// StartCleanupTicker runs DeleteInvalidTickets in the background every
// cleanupInterval, until Close.
func (x *Central) StartCleanupTicker() {
	x.Log.Info("Starting ticket cleanup goroutine")
	x.cleanupStopRequest = make(chan bool)
	x.cleanupStopResponse = make(chan bool)
	x.cleanupEnabled = true

	go func() {
		defer func() {
			if r := recover(); r != nil {
				x.Log.Errorf("Cleanup tick panic: %v", r)
			}
			x.Log.Info("Go routine for ticket cleanup is stopping")
		}()
		for {
			select {
			case <-time.After(x.cleanupInterval):
				x.DeleteInvalidTickets()
			case <-x.cleanupStopRequest:
				x.cleanupStopResponse <- true
				return
			}
		}
	}()
}

func (x *Central) IsShuttingDown() bool {
	return atomic.LoadUint32(&x.shuttingDown) != 0
}

func (x *Central) Close() {
	if x.Log != nil {
		x.Log.Infof("CAS ticket engine has started shutting down")
	}
	atomic.StoreUint32(&x.shuttingDown, 1)
	if x.cleanupEnabled {
		x.cleanupStopRequest <- true
		<-x.cleanupStopResponse
		x.cleanupEnabled = false
	}
	if x.ticketStore != nil {
		x.ticketStore.Close()
		x.ticketStore = nil
	}
	if x.userStore != nil {
		x.userStore.Close()
		x.userStore = nil
	}
	if x.Log != nil {
		x.Log.Infof("CAS ticket engine has shut down")
		// Don't set Log to nil, because a background/cleanup goroutine can't be expected to
		// check for x.Log being nil every time before it emits a log message.
	}
}
