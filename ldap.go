package cas

import (
	"github.com/mavricknz/ldap"
)

type LdapConnectionMode int

const (
	LdapConnectionModePlainText LdapConnectionMode = iota
	LdapConnectionModeSSL
	LdapConnectionModeTLS
)

// User store backed by an LDAP BIND. It can only answer the
// identity/password question; attribute release for LDAP-authenticated
// users comes from whatever attribute callbacks the deployment registers.
type ldapUserStore struct {
	con *ldap.LDAPConnection
}

func (x *ldapUserStore) Authenticate(identity, password string) error {
	if len(password) == 0 {
		// Many LDAP servers (or AD) will allow an anonymous BIND.
		// I've never seen the need for a password-less user authenticated against LDAP.
		return ErrInvalidPassword
	}
	if err := x.con.Bind(identity, password); err != nil {
		return NewError(ErrIdentityNotFound, err.Error())
	}
	return nil
}

func (x *ldapUserStore) GetUser(identity string) (*User, error) {
	identity = CanonicalizeIdentity(identity)
	if identity == "" {
		return nil, ErrIdentityEmpty
	}
	return &User{UserId: identity, Username: identity}, nil
}

func (x *ldapUserStore) Close() {
	if x.con != nil {
		x.con.Close()
		x.con = nil
	}
}

func NewUserStoreLDAP(mode LdapConnectionMode, host string, port uint16) (UserStore, error) {
	con := ldap.NewLDAPConnection(host, port)
	switch mode {
	case LdapConnectionModeSSL:
		con.IsSSL = true
	case LdapConnectionModeTLS:
		con.IsTLS = true
	}
	if err := con.Connect(); err != nil {
		con.Close()
		return nil, NewError(ErrConnect, err.Error())
	}
	return &ldapUserStore{con: con}, nil
}
