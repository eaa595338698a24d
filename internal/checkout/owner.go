package checkout

import (
	"fmt"
	"strings"
)

type OwnerKind string

const (
	OwnerCart OwnerKind = "cart"
	OwnerUser OwnerKind = "user"
)

// OwnerKey identifies who holds a reservation: either a guest cart or an
// authenticated user. It only becomes a single opaque string at the storage
// layer and in event payloads.
type OwnerKey struct {
	Kind OwnerKind
	ID   string
}

func CartOwner(id string) OwnerKey { return OwnerKey{Kind: OwnerCart, ID: id} }
func UserOwner(id string) OwnerKey { return OwnerKey{Kind: OwnerUser, ID: id} }

func (k OwnerKey) IsZero() bool { return k.ID == "" }

// String is the storage form, e.g. "cart:9f2c..." or "user:42".
func (k OwnerKey) String() string { return string(k.Kind) + ":" + k.ID }

func ParseOwnerKey(s string) (OwnerKey, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return OwnerKey{}, fmt.Errorf("malformed owner key: %q", s)
	}
	switch OwnerKind(kind) {
	case OwnerCart, OwnerUser:
		return OwnerKey{Kind: OwnerKind(kind), ID: id}, nil
	default:
		return OwnerKey{}, fmt.Errorf("unknown owner kind: %q", kind)
	}
}

func (k OwnerKey) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *OwnerKey) UnmarshalText(b []byte) error {
	parsed, err := ParseOwnerKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
