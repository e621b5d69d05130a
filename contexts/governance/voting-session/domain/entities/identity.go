package entities

import (
	"strings"

	domainerrors "ballotbox/contexts/governance/voting-session/domain/errors"
)

// Identity is an opaque caller identity supplied by the host after
// authentication. Only equality is meaningful.
type Identity string

func NewIdentity(v string) (Identity, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", domainerrors.ErrInvalidIdentity
	}
	return Identity(v), nil
}

func (i Identity) String() string {
	return string(i)
}

func (i Identity) IsZero() bool {
	return strings.TrimSpace(string(i)) == ""
}
