/*
Package cas implements the server side of the CAS (Central Authentication
Service) single-sign-on protocol, versions 1.0 through 3.1.

The package is the ticket engine only. It brings together the following
pluggable components:

	Ticket Store		Durable keyed storage for tickets, with an atomic consume operation.
	User Store		This answers "is this identity/password valid?" and supplies user attributes.
	Authorization Backends	These decide which services may validate tickets, proxy, and receive logout notices.
	HTTPS Client		Performs the out-of-band proxy-granting-ticket callback.

Any of these components can be swapped out. A typical setup is Postgres as a
Ticket Store, LDAP or Postgres as a User Store, and a config-driven
authorization backend.

Concepts

A Service Ticket (ST) is a single-use credential proving a login to one
service. A Proxy Ticket (PT) is a single-use credential a proxying service
uses to authenticate to a back-end service on a user's behalf. A
Proxy-Granting Ticket (PGT) is a longer-lived credential a service holds in
order to mint PTs; it is only ever delivered over a verified HTTPS callback,
while an opaque IOU value is returned synchronously in its place.

Every ST and PT is burned by its first validation attempt, whether or not
that attempt succeeds. This is deliberate: a ticket that has been presented
to the validator is never accepted again, even when validation fails for an
unrelated reason such as a missing service parameter.
*/
package cas
