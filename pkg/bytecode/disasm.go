package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Yellowstone Bytecode v%d\n", c.Version))

	// Constants
	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i := range c.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, displayConstant(c, i, 40)))
		}
	}

	// Code section
	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.DisassembleInstruction(offset)
		sb.WriteString(line)
		sb.WriteByte('\n')
		offset += instrLen
	}

	return sb.String()
}

// DisassembleInstruction formats the instruction at offset, prefixed with
// its offset and source line ("   |" when the line repeats).
// Returns the formatted string and the instruction length.
func (c *Chunk) DisassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	var prefix string
	if line := c.GetLine(offset); line == SameLine {
		prefix = fmt.Sprintf("%04X    | ", offset)
	} else {
		prefix = fmt.Sprintf("%04X %4d ", offset, line)
	}

	text, n := c.disassembleInstruction(offset)
	return prefix + text, n
}

// disassembleInstruction renders the instruction body without the prefix.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	if !op.IsValid() {
		return info.Name, 1
	}

	n := op.InstructionLen()
	if offset+n > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal:
		idx := int(c.ReadUint16(offset + 1))
		return fmt.Sprintf("%-16s %4d ; %s", info.Name, idx, displayConstant(c, idx, 20)), n

	case OpGetLocal, OpSetLocal:
		return fmt.Sprintf("%-16s %4d", info.Name, c.Code[offset+1]), n

	case OpJump, OpJumpIfFalse:
		jump := int(c.ReadUint16(offset + 1))
		return fmt.Sprintf("%-16s %04X -> %04X", info.Name, offset, offset+n+jump), n

	case OpLoop:
		jump := int(c.ReadUint16(offset + 1))
		return fmt.Sprintf("%-16s %04X -> %04X", info.Name, offset, offset+n-jump), n

	default:
		return info.Name, n
	}
}

// displayConstant renders a pool entry for listings, truncating long strings
// and escaping control characters.
func displayConstant(c *Chunk, idx, limit int) string {
	if idx < 0 || idx >= len(c.Constants) {
		return "<invalid>"
	}
	v := c.Constants[idx]
	if !v.IsString() {
		return v.String()
	}
	s := v.String()
	if len(s) > limit {
		s = s[:limit-3] + "..."
	}
	return fmt.Sprintf("%q", s)
}
