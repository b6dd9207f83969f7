// Package value defines the runtime value representation shared by the
// compiler, the bytecode chunk and the virtual machine.
//
// A Value is a small tagged union: nil, a boolean, a 32-bit float, or a
// handle to a heap object. Accessors are checked; asking a number for its
// string payload returns ErrWrongKind instead of reinterpreting bits.
package value

import (
	"errors"
	"fmt"
	"strconv"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindNumber
	KindObject
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ErrWrongKind is returned by the checked accessors when the value holds a
// different variant than the one requested.
var ErrWrongKind = errors.New("wrong value kind")

// Value is a runtime value. The zero Value is nil.
type Value struct {
	kind Kind
	b    bool
	num  float32
	obj  Object
}

// Nil returns the nil value.
func Nil() Value {
	return Value{kind: KindNil}
}

// Bool wraps a boolean.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Number wraps a number.
func Number(n float32) Value {
	return Value{kind: KindNumber, num: n}
}

// FromObject wraps a heap object. A nil object yields the nil value.
func FromObject(o Object) Value {
	if o == nil {
		return Nil()
	}
	return Value{kind: KindObject, obj: o}
}

// String allocates a new string object and wraps it.
func String(s string) Value {
	return FromObject(NewString(s))
}

// Kind returns the tag of the value.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObject() bool { return v.kind == KindObject }

// IsString reports whether the value is a string object.
func (v Value) IsString() bool {
	if v.kind != KindObject {
		return false
	}
	_, ok := v.obj.(*StringObject)
	return ok
}

// AsBool returns the boolean payload.
func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, v.kindError("bool")
	}
	return v.b, nil
}

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float32, error) {
	if v.kind != KindNumber {
		return 0, v.kindError("number")
	}
	return v.num, nil
}

// AsObject returns the object handle.
func (v Value) AsObject() (Object, error) {
	if v.kind != KindObject {
		return nil, v.kindError("object")
	}
	return v.obj, nil
}

// AsStringObject returns the string object handle.
func (v Value) AsStringObject() (*StringObject, error) {
	if s, ok := v.obj.(*StringObject); ok && v.kind == KindObject {
		return s, nil
	}
	return nil, v.kindError("string")
}

// AsString returns the characters of a string object.
func (v Value) AsString() (string, error) {
	s, err := v.AsStringObject()
	if err != nil {
		return "", err
	}
	return s.String(), nil
}

func (v Value) kindError(want string) error {
	return fmt.Errorf("%w: want %s, got %s", ErrWrongKind, want, v.TypeName())
}

// TypeName names the dynamic type of the value. Objects report their
// object kind ("string") rather than the generic "object" tag.
func (v Value) TypeName() string {
	if v.kind == KindObject {
		return v.obj.Kind().String()
	}
	return v.kind.String()
}

// Truthy reports whether the value counts as true in a condition.
// nil and false are falsey; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNil:
		return false
	case KindBool:
		return v.b
	default:
		return true
	}
}

// String renders the value the way print shows it.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return FormatNumber(v.num)
	case KindObject:
		return v.obj.String()
	default:
		return fmt.Sprintf("<invalid %d>", v.kind)
	}
}

// FormatNumber renders a number in its shortest round-tripping form.
func FormatNumber(n float32) string {
	return strconv.FormatFloat(float64(n), 'g', -1, 32)
}

// SameType reports whether a and b carry the same tag. Two objects only
// share a type when their object kinds match.
func SameType(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	if a.kind == KindObject {
		return a.obj.Kind() == b.obj.Kind()
	}
	return true
}

// Equal compares two values. Values of different types are never equal;
// strings compare by content, not identity.
func Equal(a, b Value) bool {
	if !SameType(a, b) {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.num == b.num
	case KindObject:
		return a.obj.Equal(b.obj)
	default:
		return false
	}
}
