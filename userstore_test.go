package cas

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeIdentity(t *testing.T) {
	assert.Equal(t, "joe@email.test", CanonicalizeIdentity("  Joe@Email.Test "))
	assert.Equal(t, "", CanonicalizeIdentity("   "))
}

func TestDummyUserStore(t *testing.T) {
	store := newDummyUserStore()
	defer store.Close()

	assert.Equal(t, ErrIdentityEmpty, store.CreateIdentity(" ", "pwd", nil))
	assert.NoError(t, store.CreateIdentity("Joe@Email.Test", "pwd", map[string]string{"email": "joe@email.test"}))
	assert.Equal(t, ErrIdentityExists, store.CreateIdentity("joe@email.test", "other", nil))

	// Identities are case-insensitive
	assert.NoError(t, store.Authenticate("JOE@email.test", "pwd"))
	assert.Equal(t, ErrInvalidPassword, store.Authenticate("joe@email.test", "wrong"))
	assert.Equal(t, ErrIdentityNotFound, store.Authenticate("nobody@email.test", "pwd"))

	user, err := store.GetUser("joe@email.test")
	assert.NoError(t, err)
	assert.Equal(t, "joe@email.test", user.UserId)
	assert.Equal(t, "joe@email.test", user.Attributes["email"])

	_, err = store.GetUser("nobody@email.test")
	assert.Equal(t, ErrIdentityNotFound, err)
}

func TestPasswordHash(t *testing.T) {
	encoded, err := computePasswordHash("correct horse")
	assert.NoError(t, err)
	assert.True(t, verifyPasswordHash("correct horse", encoded))
	assert.False(t, verifyPasswordHash("wrong horse", encoded))
	assert.False(t, verifyPasswordHash("correct horse", ""))
	assert.False(t, verifyPasswordHash("correct horse", "not base64 !!!"))

	// A truncated or version-bumped block never verifies
	block, _ := base64.StdEncoding.DecodeString(encoded)
	assert.False(t, verifyPasswordHash("correct horse", base64.StdEncoding.EncodeToString(block[:32])))
	block[0] = 2
	assert.False(t, verifyPasswordHash("correct horse", base64.StdEncoding.EncodeToString(block)))

	// Salting: the same password hashes differently every time
	other, err := computePasswordHash("correct horse")
	assert.NoError(t, err)
	assert.NotEqual(t, encoded, other)
}
