package users

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswordHasher(t *testing.T) {
	hasher := NewPasswordHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("correct horse")
	require.NoError(t, err)

	assert.NotEqual(t, "correct horse", hash)
	assert.True(t, hasher.Verify("correct horse", hash))
	assert.False(t, hasher.Verify("wrong horse", hash))
}

func TestPasswordHasher_OutOfRangeCostFallsBack(t *testing.T) {
	assert.Equal(t, DefaultBcryptCost, NewPasswordHasher(0).cost)
	assert.Equal(t, DefaultBcryptCost, NewPasswordHasher(99).cost)
}

func TestPasswordHasher_RejectsOverlongInput(t *testing.T) {
	_, err := NewPasswordHasher(bcrypt.MinCost).Hash(strings.Repeat("a", 73))

	assert.Error(t, err)
}
