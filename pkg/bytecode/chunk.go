package bytecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chazu/yellowstone/value"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for snapshot files: "YSBC" (YellowStone ByteCode)
var BytecodeMagic = []byte{'Y', 'S', 'B', 'C'}

// SameLine is returned by GetLine when an offset was produced by the same
// source line as the offset before it.
const SameLine = -1

// MaxConstants is the number of constants addressable by a u16 operand.
const MaxConstants = math.MaxUint16 + 1

// MaxJump is the largest distance a jump operand can encode.
const MaxJump = math.MaxUint16

// ErrJumpTooLarge is returned when a jump distance does not fit its operand.
var ErrJumpTooLarge = errors.New("jump distance too large")

// LineRun records that Count consecutive code bytes came from source Line.
type LineRun struct {
	Line  int
	Count int
}

// Chunk represents compiled bytecode for a program.
// It owns the instruction bytes, the constant pool and a run-length encoded
// line table with one run per stretch of code emitted for a single line.
type Chunk struct {
	Version uint16 // Bytecode format version

	// Code section
	Code []byte // Bytecode instructions

	// Constant pool, indexed by OpConstant and the global opcodes
	Constants []value.Value

	// Line table: sum of Count equals len(Code)
	Lines []LineRun
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk() *Chunk {
	return &Chunk{
		Version:   BytecodeVersion,
		Code:      make([]byte, 0, 64),
		Constants: make([]value.Value, 0, 8),
	}
}

// Write appends a single byte produced by the given source line and
// returns its offset.
func (c *Chunk) Write(b byte, line int) int {
	offset := len(c.Code)
	c.Code = append(c.Code, b)

	if n := len(c.Lines); n > 0 && c.Lines[n-1].Line == line {
		c.Lines[n-1].Count++
	} else {
		c.Lines = append(c.Lines, LineRun{Line: line, Count: 1})
	}
	return offset
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode, line int) int {
	return c.Write(byte(op), line)
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, line int, operands ...byte) int {
	offset := c.Write(byte(op), line)
	for _, b := range operands {
		c.Write(b, line)
	}
	return offset
}

// EmitUint16 appends an opcode followed by a big-endian u16 operand.
func (c *Chunk) EmitUint16(op Opcode, operand uint16, line int) int {
	return c.EmitWithOperand(op, line, byte(operand>>8), byte(operand))
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode, line int) int {
	c.EmitWithOperand(op, line, 0xFF, 0xFF) // Placeholder
	return len(c.Code) - 2
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) error {
	// Relative to the byte after the 2-byte operand
	delta := len(c.Code) - placeholderOffset - 2
	if delta < 0 || delta > MaxJump {
		return fmt.Errorf("%w: %d", ErrJumpTooLarge, delta)
	}
	c.PatchUint16(placeholderOffset, uint16(delta))
	return nil
}

// EmitLoop emits a backward jump to the given loop start.
func (c *Chunk) EmitLoop(loopStart int, line int) error {
	// Jump goes backward from after this instruction
	delta := len(c.Code) + 3 - loopStart
	if delta > MaxJump {
		return fmt.Errorf("%w: %d", ErrJumpTooLarge, delta)
	}
	c.EmitUint16(OpLoop, uint16(delta), line)
	return nil
}

// PatchUint16 overwrites the two operand bytes at offset.
func (c *Chunk) PatchUint16(offset int, v uint16) {
	binary.BigEndian.PutUint16(c.Code[offset:], v)
}

// ReadUint16 decodes the big-endian operand at offset.
func (c *Chunk) ReadUint16(offset int) uint16 {
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// AddConstant appends a value to the pool and returns its index.
// Object constants gain a reference held by the pool.
func (c *Chunk) AddConstant(v value.Value) int {
	if obj, err := v.AsObject(); err == nil {
		obj.Retain()
	}
	c.Constants = append(c.Constants, v)
	return len(c.Constants) - 1
}

// Constant returns the constant at the given index.
// Panics if the index is out of bounds.
func (c *Chunk) Constant(index int) value.Value {
	return c.Constants[index]
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// CodeLen returns the length of the code section.
func (c *Chunk) CodeLen() int {
	return len(c.Code)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return len(c.Constants)
}

// LineAt returns the source line that produced the byte at offset,
// or 0 if the offset is outside the code section.
func (c *Chunk) LineAt(offset int) int {
	if offset < 0 {
		return 0
	}
	remaining := offset
	for _, run := range c.Lines {
		if remaining < run.Count {
			return run.Line
		}
		remaining -= run.Count
	}
	return 0
}

// GetLine returns the source line for offset, or SameLine when the
// previous offset came from the same line.
func (c *Chunk) GetLine(offset int) int {
	line := c.LineAt(offset)
	if offset > 0 && line != 0 && c.LineAt(offset-1) == line {
		return SameLine
	}
	return line
}

// Validate checks the invariants a chunk must satisfy before it is
// executed: the line table covers the code exactly, every opcode is known,
// operands are in range, jumps land on instructions inside the code, and
// no reachable instruction finds fewer values on the stack than it needs.
func (c *Chunk) Validate() error {
	total := 0
	for _, run := range c.Lines {
		if run.Count <= 0 {
			return fmt.Errorf("line table: empty run for line %d", run.Line)
		}
		total += run.Count
	}
	if total != len(c.Code) {
		return fmt.Errorf("line table covers %d bytes, code has %d", total, len(c.Code))
	}

	starts := make([]bool, len(c.Code))
	offset := 0
	for offset < len(c.Code) {
		starts[offset] = true
		op := Opcode(c.Code[offset])
		if !op.IsValid() {
			return fmt.Errorf("unknown opcode 0x%02X at offset %d", byte(op), offset)
		}
		next := offset + op.InstructionLen()
		if next > len(c.Code) {
			return fmt.Errorf("%s at offset %d: truncated operand", op, offset)
		}

		switch op {
		case OpConstant:
			if idx := int(c.ReadUint16(offset + 1)); idx >= len(c.Constants) {
				return fmt.Errorf("%s at offset %d: constant %d out of range", op, offset, idx)
			}
		case OpGetGlobal, OpDefineGlobal, OpSetGlobal:
			idx := int(c.ReadUint16(offset + 1))
			if idx >= len(c.Constants) {
				return fmt.Errorf("%s at offset %d: constant %d out of range", op, offset, idx)
			}
			if !c.Constants[idx].IsString() {
				return fmt.Errorf("%s at offset %d: name constant %d is a %s", op, offset, idx, c.Constants[idx].TypeName())
			}
		case OpJump, OpJumpIfFalse:
			if target := next + int(c.ReadUint16(offset+1)); target > len(c.Code) {
				return fmt.Errorf("%s at offset %d: target %d past end of code", op, offset, target)
			}
		case OpLoop:
			if target := next - int(c.ReadUint16(offset+1)); target < 0 {
				return fmt.Errorf("%s at offset %d: target %d before start of code", op, offset, target)
			}
		}
		offset = next
	}
	return c.checkStack(starts)
}

// checkStack follows every path from offset 0 and records the stack depth
// on entry to each reachable instruction. Paths that meet must agree on the
// depth. Unreachable code is not checked.
func (c *Chunk) checkStack(starts []bool) error {
	if len(c.Code) == 0 {
		return nil
	}

	depths := make([]int, len(c.Code))
	for i := range depths {
		depths[i] = -1
	}
	depths[0] = 0
	work := []int{0}

	for len(work) > 0 {
		offset := work[len(work)-1]
		work = work[:len(work)-1]

		op := Opcode(c.Code[offset])
		info := GetOpcodeInfo(op)
		depth := depths[offset]
		if depth < info.StackPop {
			return fmt.Errorf("%s at offset %d: stack underflow (depth %d, needs %d)", op, offset, depth, info.StackPop)
		}
		if op == OpGetLocal || op == OpSetLocal {
			if slot := int(c.Code[offset+1]); slot >= depth {
				return fmt.Errorf("%s at offset %d: local slot %d out of range (depth %d)", op, offset, slot, depth)
			}
		}
		if op.IsReturn() {
			continue
		}

		depth += info.StackPush - info.StackPop
		next := offset + op.InstructionLen()
		successors := []int{next}
		if op.IsJump() {
			distance := int(c.ReadUint16(offset + 1))
			switch op {
			case OpJump:
				successors = []int{next + distance}
			case OpJumpIfFalse:
				successors = append(successors, next+distance)
			case OpLoop:
				successors = []int{next - distance}
			}
		}

		for _, target := range successors {
			if target == len(c.Code) {
				continue
			}
			if !starts[target] {
				return fmt.Errorf("%s at offset %d: target %d is not an instruction boundary", op, offset, target)
			}
			switch depths[target] {
			case -1:
				depths[target] = depth
				work = append(work, target)
			case depth:
			default:
				return fmt.Errorf("stack depth at offset %d is both %d and %d", target, depths[target], depth)
			}
		}
	}
	return nil
}
