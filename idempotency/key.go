// Package idempotency stores the responses of operations that must not run twice
// for the same (user, key) pair.
package idempotency

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// MaxKeyLength is the exclusive upper bound on key length, in characters.
const MaxKeyLength = 50

var (
	ErrEmptyKey   = errors.New("the idempotency key cannot be empty")
	ErrKeyTooLong = errors.New("the idempotency key must be shorter than 50 characters")
	ErrInvalidKey = errors.New("the idempotency key must be valid UTF-8 without NUL characters")
)

// Key is a validated client supplied idempotency key.
type Key struct {
	value string
}

// NewKey validates value and wraps it in a Key.
func NewKey(value string) (Key, error) {
	if value == "" {
		return Key{}, ErrEmptyKey
	}
	// Postgres text columns reject both.
	if !utf8.ValidString(value) || strings.ContainsRune(value, 0) {
		return Key{}, ErrInvalidKey
	}
	if utf8.RuneCountInString(value) >= MaxKeyLength {
		return Key{}, ErrKeyTooLong
	}
	return Key{value: value}, nil
}

func (k Key) String() string { return k.value }
