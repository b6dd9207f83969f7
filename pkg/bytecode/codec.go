package bytecode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/chazu/yellowstone/value"
	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrBadMagic is returned when snapshot bytes do not start with BytecodeMagic.
	ErrBadMagic = errors.New("not a yellowstone bytecode snapshot")

	// ErrUnsupportedVersion is returned for snapshots written by another format version.
	ErrUnsupportedVersion = errors.New("unsupported bytecode version")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireChunk is the snapshot layout of a Chunk.
type wireChunk struct {
	Magic     []byte         `cbor:"1,keyasint"`
	Version   uint16         `cbor:"2,keyasint"`
	Code      []byte         `cbor:"3,keyasint"`
	Constants []wireConstant `cbor:"4,keyasint"`
	Lines     []wireLineRun  `cbor:"5,keyasint"`
}

type wireConstant struct {
	Kind   value.Kind `cbor:"1,keyasint"`
	Bool   bool       `cbor:"2,keyasint,omitempty"`
	Number float32    `cbor:"3,keyasint,omitempty"`
	String string     `cbor:"4,keyasint,omitempty"`
}

type wireLineRun struct {
	_     struct{} `cbor:",toarray"`
	Line  int
	Count int
}

// MarshalChunk serializes a Chunk to CBOR bytes.
func MarshalChunk(c *Chunk) ([]byte, error) {
	w := wireChunk{
		Magic:     BytecodeMagic,
		Version:   c.Version,
		Code:      c.Code,
		Constants: make([]wireConstant, 0, len(c.Constants)),
		Lines:     make([]wireLineRun, 0, len(c.Lines)),
	}
	for i, v := range c.Constants {
		wc, err := encodeConstant(v)
		if err != nil {
			return nil, fmt.Errorf("bytecode: marshal constant %d: %w", i, err)
		}
		w.Constants = append(w.Constants, wc)
	}
	for _, run := range c.Lines {
		w.Lines = append(w.Lines, wireLineRun{Line: run.Line, Count: run.Count})
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalChunk deserializes a Chunk from CBOR bytes. The result is not
// validated; call Validate before executing it.
func UnmarshalChunk(data []byte) (*Chunk, error) {
	var w wireChunk
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal chunk: %w", err)
	}
	if !bytes.Equal(w.Magic, BytecodeMagic) {
		return nil, ErrBadMagic
	}
	if w.Version != BytecodeVersion {
		return nil, fmt.Errorf("%w: %d (expected %d)", ErrUnsupportedVersion, w.Version, BytecodeVersion)
	}

	c := NewChunk()
	c.Code = append(c.Code, w.Code...)
	for i, wc := range w.Constants {
		v, err := decodeConstant(wc)
		if err != nil {
			return nil, fmt.Errorf("bytecode: unmarshal constant %d: %w", i, err)
		}
		c.AddConstant(v)
	}
	for _, run := range w.Lines {
		c.Lines = append(c.Lines, LineRun{Line: run.Line, Count: run.Count})
	}
	return c, nil
}

func encodeConstant(v value.Value) (wireConstant, error) {
	switch v.Kind() {
	case value.KindNil:
		return wireConstant{Kind: value.KindNil}, nil
	case value.KindBool:
		b, _ := v.AsBool()
		return wireConstant{Kind: value.KindBool, Bool: b}, nil
	case value.KindNumber:
		n, _ := v.AsNumber()
		return wireConstant{Kind: value.KindNumber, Number: n}, nil
	}
	s, err := v.AsString()
	if err != nil {
		return wireConstant{}, err
	}
	return wireConstant{Kind: value.KindObject, String: s}, nil
}

func decodeConstant(wc wireConstant) (value.Value, error) {
	switch wc.Kind {
	case value.KindNil:
		return value.Nil(), nil
	case value.KindBool:
		return value.Bool(wc.Bool), nil
	case value.KindNumber:
		return value.Number(wc.Number), nil
	case value.KindObject:
		return value.String(wc.String), nil
	default:
		return value.Value{}, fmt.Errorf("unknown constant kind %d", wc.Kind)
	}
}
