package value

import "fmt"

// ObjectKind identifies the concrete type behind an Object handle.
type ObjectKind uint8

const (
	ObjString ObjectKind = iota
)

func (k ObjectKind) String() string {
	switch k {
	case ObjString:
		return "string"
	default:
		return fmt.Sprintf("ObjectKind(%d)", k)
	}
}

// Object is a heap-allocated value. Objects are shared between the constant
// pool, the operand stack and the VM heap registry, so each holder takes a
// reference with Retain and gives it back with Release.
type Object interface {
	Kind() ObjectKind
	String() string
	Equal(other Object) bool

	Retain()
	Release()
	Refs() int
}

// StringObject is an immutable string on the heap.
type StringObject struct {
	chars string
	refs  int
}

// NewString allocates a string object with no holders.
func NewString(s string) *StringObject {
	return &StringObject{chars: s}
}

// Concat allocates a new string holding a followed by b.
func Concat(a, b *StringObject) *StringObject {
	return NewString(a.chars + b.chars)
}

func (s *StringObject) Kind() ObjectKind { return ObjString }
func (s *StringObject) String() string   { return s.chars }
func (s *StringObject) Len() int         { return len(s.chars) }

// Equal compares string contents.
func (s *StringObject) Equal(other Object) bool {
	o, ok := other.(*StringObject)
	return ok && o.chars == s.chars
}

func (s *StringObject) Retain() { s.refs++ }

func (s *StringObject) Release() {
	if s.refs > 0 {
		s.refs--
	}
}

// Refs returns the number of live holders.
func (s *StringObject) Refs() int { return s.refs }
