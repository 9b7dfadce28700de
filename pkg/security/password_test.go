package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Cheap parameters keep the tests fast.
var testParams = Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestPassword_RoundTrip(t *testing.T) {
	hash, err := testParams.Hash("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := ComparePassword("hunter2", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = ComparePassword("hunter3", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPassword_SaltsDiffer(t *testing.T) {
	a, err := testParams.Hash("same")
	require.NoError(t, err)
	b, err := testParams.Hash("same")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestPassword_InvalidHash(t *testing.T) {
	for _, h := range []string{
		"",
		"plain",
		"$bcrypt$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
	} {
		_, err := ComparePassword("pw", h)
		assert.ErrorIs(t, err, ErrInvalidHash, h)
	}
}
