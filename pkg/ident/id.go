package ident

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrInvalidID    = errors.New("invalid object id")
	ErrUnordered    = errors.New("object ids are unordered")
	ErrIncomparable = errors.New("object ids of different kinds")
	ErrUnsupported  = errors.New("id allocation not supported")
	ErrExhausted    = errors.New("id space exhausted")
)

type Kind uint8

const (
	KindNull Kind = iota
	KindLong
	KindString
	KindUUID
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindLong:
		return "long"
	case KindString:
		return "string"
	case KindUUID:
		return "uuid"
	case KindExternal:
		return "external"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ObjectID is a branch independent object handle.  The zero value is the null id.
// ObjectID is comparable and may be used as a map key.
type ObjectID struct {
	kind Kind
	num  int64
	uri  string
	uuid uuid.UUID
}

var Null = ObjectID{}

func Long(n int64) ObjectID {
	return ObjectID{kind: KindLong, num: n}
}

func String(n int64) ObjectID {
	return ObjectID{kind: KindString, num: n}
}

func UUID(u uuid.UUID) ObjectID {
	return ObjectID{kind: KindUUID, uuid: u}
}

// External is an unmapped reference to an object outside the store, addressed by URI.
func External(uri string) ObjectID {
	return ObjectID{kind: KindExternal, uri: uri}
}

func (id ObjectID) Kind() Kind {
	return id.kind
}

func (id ObjectID) IsNull() bool {
	return id.kind == KindNull
}

// IsExternal reports whether id refers to an object outside the store: either an unmapped
// URI or a mapped negative local id.
func (id ObjectID) IsExternal() bool {
	switch id.kind {
	case KindExternal:
		return true
	case KindLong, KindString:
		return id.num < 0
	default:
		return false
	}
}

// Seq returns the numeric value of counter based ids.
func (id ObjectID) Seq() (int64, bool) {
	if id.kind == KindLong || id.kind == KindString {
		return id.num, true
	}
	return 0, false
}

func (id ObjectID) URI() string {
	return id.uri
}

func (id ObjectID) String() string {
	switch id.kind {
	case KindLong, KindString:
		return strconv.FormatInt(id.num, 10)
	case KindUUID:
		return id.uuid.String()
	case KindExternal:
		return id.uri
	default:
		return ""
	}
}

func (id ObjectID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func digitLeading(s string) bool {
	if strings.HasPrefix(s, "-") {
		s = s[1:]
	}
	return s != "" && s[0] >= '0' && s[0] <= '9'
}
