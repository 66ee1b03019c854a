// Package fingerprint derives short stable identifiers from a list of
// identifying values, for use as grouping tags.
package fingerprint

import (
	"crypto/md5"
	"fmt"
	"math/big"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	// Width is the length of every fingerprint.
	Width = 15
	// MaxItems bounds the number of values accepted by Of.
	MaxItems = 250
)

var (
	ErrEmpty   = errors.New("fingerprint: no items")
	ErrTooMany = errors.New("fingerprint: too many items")
)

// Of hashes the concatenated fmt.Sprint forms of items. The md5 digest is
// rendered as a decimal integer and cut to Width digits.
func Of(items ...any) (string, error) {
	switch {
	case len(items) == 0:
		return "", ErrEmpty
	case len(items) > MaxItems:
		return "", errors.Wrapf(ErrTooMany, "got %d, max %d", len(items), MaxItems)
	}

	var b strings.Builder
	for _, it := range items {
		b.WriteString(fmt.Sprint(it))
	}
	sum := md5.Sum([]byte(b.String()))
	dec := new(big.Int).SetBytes(sum[:]).String()
	if len(dec) >= Width {
		return dec[:Width], nil
	}
	return strings.Repeat("0", Width-len(dec)) + dec, nil
}

// MustOf is Of for call sites whose item count is fixed at compile time.
func MustOf(items ...any) string {
	fp, err := Of(items...)
	if err != nil {
		panic(err)
	}
	return fp
}
