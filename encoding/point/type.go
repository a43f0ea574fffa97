package point

import "github.com/grailbio/base/log"

// Kind is the numeric family of a dimension type.
type Kind uint8

const (
	// SignedInteger is a two's-complement integer field.
	SignedInteger Kind = iota
	// UnsignedInteger is an unsigned integer field.
	UnsignedInteger
	// Float is an IEEE-754 field, 4 or 8 bytes.
	Float
)

// Type is a tagged primitive dimension type: a kind plus a byte size.
// Field read/write dispatches on the tag; there is no reflection.
type Type struct {
	Kind Kind
	Size int
}

// The full set of dimension types accepted by a point context.
var (
	Int8    = Type{SignedInteger, 1}
	Int16   = Type{SignedInteger, 2}
	Int32   = Type{SignedInteger, 4}
	Int64   = Type{SignedInteger, 8}
	Uint8   = Type{UnsignedInteger, 1}
	Uint16  = Type{UnsignedInteger, 2}
	Uint32  = Type{UnsignedInteger, 4}
	Uint64  = Type{UnsignedInteger, 8}
	Float32 = Type{Float, 4}
	Float64 = Type{Float, 8}
)

// Interpretation returns the conventional C-style spelling of the type,
// as used in schema descriptions ("int32_t", "uint8_t", "double", ...).
func (t Type) Interpretation() string {
	switch t.Kind {
	case SignedInteger:
		switch t.Size {
		case 1:
			return "int8_t"
		case 2:
			return "int16_t"
		case 4:
			return "int32_t"
		case 8:
			return "int64_t"
		}
	case UnsignedInteger:
		switch t.Size {
		case 1:
			return "uint8_t"
		case 2:
			return "uint16_t"
		case 4:
			return "uint32_t"
		case 8:
			return "uint64_t"
		}
	case Float:
		switch t.Size {
		case 4:
			return "float"
		case 8:
			return "double"
		}
	}
	log.Panicf("point: invalid type {kind %d, size %d}", t.Kind, t.Size)
	return ""
}

func (t Type) String() string { return t.Interpretation() }

// valid reports whether t is one of the supported tagged types.
func (t Type) valid() bool {
	switch t.Size {
	case 1, 2:
		return t.Kind == SignedInteger || t.Kind == UnsignedInteger
	case 4, 8:
		return t.Kind <= Float
	}
	return false
}
