package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMintAndParse(t *testing.T) {
	tok, err := Mint(42, "secret", time.Hour)
	assert.NoError(t, err)

	claims, err := Parse(tok, "secret")
	assert.NoError(t, err)
	id, err := claims.UserID()
	assert.NoError(t, err)
	assert.Equal(t, uint64(42), id)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := Mint(42, "secret", time.Hour)
	assert.NoError(t, err)

	_, err = Parse(tok, "other")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	tok, err := Mint(42, "secret", -time.Minute)
	assert.NoError(t, err)

	_, err = Parse(tok, "secret")
	assert.Error(t, err)
}
