package cas

import (
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"strings"
	"sync"

	"golang.org/x/crypto/scrypt"
)

// User is everything the ticket engine needs to know about an authenticated
// subject: a stable opaque identifier, a username for the wire responses,
// and the attribute map the release callbacks draw from.
type User struct {
	UserId     string
	Username   string
	Attributes map[string]string
}

// The primary job of a user store is to validate an identity/password.
// The ticket engine itself never checks credentials; the login flow does,
// through this interface.
type UserStore interface {
	Authenticate(identity, password string) error // Return nil if the password is correct, otherwise one of ErrIdentityNotFound or ErrInvalidPassword
	GetUser(identity string) (*User, error)
	Close() // Typically used to close a database handle
}

// CanonicalizeIdentity transforms an identity into its canonical form: any
// two identities are equal if their canonical forms are equal. This is a
// lower-casing plus a trim of surrounding whitespace.
func CanonicalizeIdentity(identity string) string {
	return strings.TrimSpace(strings.ToLower(identity))
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

// User store that simply keeps identity/passwords in memory
type dummyUserStore struct {
	users     map[string]*dummyUser
	usersLock sync.RWMutex
}

type dummyUser struct {
	userId     string
	username   string
	password   string
	attributes map[string]string
}

func newDummyUserStore() *dummyUserStore {
	d := &dummyUserStore{}
	d.users = make(map[string]*dummyUser)
	return d
}

func (x *dummyUserStore) CreateIdentity(identity, password string, attributes map[string]string) error {
	identity = CanonicalizeIdentity(identity)
	if identity == "" {
		return ErrIdentityEmpty
	}
	x.usersLock.Lock()
	defer x.usersLock.Unlock()
	if _, exists := x.users[identity]; exists {
		return ErrIdentityExists
	}
	x.users[identity] = &dummyUser{
		userId:     identity,
		username:   identity,
		password:   password,
		attributes: attributes,
	}
	return nil
}

func (x *dummyUserStore) Authenticate(identity, password string) error {
	x.usersLock.RLock()
	defer x.usersLock.RUnlock()
	user, exists := x.users[CanonicalizeIdentity(identity)]
	if !exists {
		return ErrIdentityNotFound
	}
	if user.password != password {
		return ErrInvalidPassword
	}
	return nil
}

func (x *dummyUserStore) GetUser(identity string) (*User, error) {
	x.usersLock.RLock()
	defer x.usersLock.RUnlock()
	user, exists := x.users[CanonicalizeIdentity(identity)]
	if !exists {
		return nil, ErrIdentityNotFound
	}
	return &User{UserId: user.userId, Username: user.username, Attributes: user.attributes}, nil
}

func (x *dummyUserStore) Close() {
}

////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////////

/*
Hash encodings:

Version 1:
65 bytes (1 + 32 + 32).
bytes[0]     = 1
bytes[1:33]  = Salt (32 random bytes)
bytes[33:65] = scrypt-ed hash with parameters N=256 r=8 p=1

Why use such a low parameter (N=256) for scrypt?
This is a balance between server cost and password crackability.
If you decide that you need to raise the N factor, then introduce a new
version of the hash (the only version right now is version 1).
*/

const (
	hashLengthV1 = 65
	scryptN_V1   = 256
)

func computePasswordHash(password string) (string, error) {
	cblock := [hashLengthV1]byte{}
	cblock[0] = 1
	if _, err := rand.Read(cblock[1:33]); err != nil {
		return "", err
	}
	hashed, err := scrypt.Key([]byte(password), cblock[1:33], scryptN_V1, 8, 1, 32)
	if err != nil {
		return "", err
	}
	copy(cblock[33:], hashed)
	return base64.StdEncoding.EncodeToString(cblock[:]), nil
}

func verifyPasswordHash(password, encoded string) bool {
	block, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(block) != hashLengthV1 || block[0] != 1 {
		return false
	}
	hashed, err := scrypt.Key([]byte(password), block[1:33], scryptN_V1, 8, 1, 32)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(hashed, block[33:]) == 1
}

// User store backed by Postgres (casuser + casuserattrib tables).
type sqlUserStore struct {
	db *sql.DB
}

func NewUserStoreDB_SQL(db *sql.DB) (UserStore, error) {
	return &sqlUserStore{db: db}, nil
}

func (x *sqlUserStore) Authenticate(identity, password string) error {
	row := x.db.QueryRow(`SELECT password FROM casuser WHERE LOWER(username) = $1 AND archived = false`, CanonicalizeIdentity(identity))
	dbHash := ""
	if err := row.Scan(&dbHash); err != nil {
		return ErrIdentityNotFound
	}
	if verifyPasswordHash(password, dbHash) {
		return nil
	}
	return ErrInvalidPassword
}

func (x *sqlUserStore) GetUser(identity string) (*User, error) {
	row := x.db.QueryRow(`SELECT userid, username FROM casuser WHERE LOWER(username) = $1 AND archived = false`, CanonicalizeIdentity(identity))
	var userId int64
	var username string
	if err := row.Scan(&userId, &username); err != nil {
		return nil, ErrIdentityNotFound
	}
	user := &User{UserId: username, Username: username, Attributes: map[string]string{}}
	rows, err := x.db.Query(`SELECT name, value FROM casuserattrib WHERE userid = $1`, userId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		user.Attributes[name] = value
	}
	return user, rows.Err()
}

func (x *sqlUserStore) CreateIdentity(identity, password string, attributes map[string]string) error {
	identity = CanonicalizeIdentity(identity)
	if identity == "" {
		return ErrIdentityEmpty
	}
	hash, err := computePasswordHash(password)
	if err != nil {
		return err
	}
	tx, err := x.db.Begin()
	if err != nil {
		return err
	}
	var userId int64
	if err := tx.QueryRow(`INSERT INTO casuser (username, password) VALUES ($1, $2) RETURNING userid`, identity, hash).Scan(&userId); err != nil {
		tx.Rollback()
		return err
	}
	for name, value := range attributes {
		if _, err := tx.Exec(`INSERT INTO casuserattrib (userid, name, value) VALUES ($1, $2, $3)`, userId, name, value); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (x *sqlUserStore) Close() {
}
