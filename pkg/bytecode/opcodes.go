package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation and literals (0x00-0x0F)
	// ========================================================================

	OpConstant Opcode = 0x00 // Push constant from pool: OpConstant <index:u16>
	OpNil      Opcode = 0x01 // Push nil
	OpTrue     Opcode = 0x02 // Push true
	OpFalse    Opcode = 0x03 // Push false
	OpPop      Opcode = 0x04 // Pop top of stack

	// ========================================================================
	// Variables (0x10-0x1F)
	// ========================================================================

	OpGetLocal     Opcode = 0x10 // Push stack slot: OpGetLocal <slot:u8>
	OpSetLocal     Opcode = 0x11 // Store TOS into slot, leave it on the stack: OpSetLocal <slot:u8>
	OpGetGlobal    Opcode = 0x12 // Push global by name: OpGetGlobal <name:u16>
	OpDefineGlobal Opcode = 0x13 // Pop and bind global: OpDefineGlobal <name:u16>
	OpSetGlobal    Opcode = 0x14 // Store TOS into existing global: OpSetGlobal <name:u16>

	// ========================================================================
	// Comparison (0x20-0x2F)
	// ========================================================================

	OpEqual   Opcode = 0x20 // Pop two, push a == b
	OpGreater Opcode = 0x21 // Pop two, push a > b
	OpLess    Opcode = 0x22 // Pop two, push a < b

	// ========================================================================
	// Arithmetic (0x30-0x3F)
	// ========================================================================

	OpAdd      Opcode = 0x30 // Pop two, push sum or string concatenation
	OpSubtract Opcode = 0x31 // Pop two, push a - b where b is TOS
	OpMultiply Opcode = 0x32 // Pop two, push product
	OpDivide   Opcode = 0x33 // Pop two, push quotient
	OpNegate   Opcode = 0x34 // Negate numeric TOS

	// ========================================================================
	// Logical (0x40-0x4F)
	// ========================================================================

	OpNot Opcode = 0x40 // Replace TOS with its falsiness

	// ========================================================================
	// Statements (0x50-0x5F)
	// ========================================================================

	OpPrint    Opcode = 0x50 // Pop and print
	OpAssertEq Opcode = 0x51 // Pop two, fail unless equal

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump        Opcode = 0x80 // Unconditional forward jump: OpJump <offset:u16>
	OpJumpIfFalse Opcode = 0x81 // Forward jump if TOS is falsey (TOS is not popped): OpJumpIfFalse <offset:u16>
	OpLoop        Opcode = 0x82 // Backward jump: OpLoop <offset:u16>

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Pop TOS (if any) as the program result and halt
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // Values the instruction needs on the stack
	StackPush  int    // Values it leaves in their place
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpConstant: {"OP_CONSTANT", 0, 1, 2},
	OpNil:      {"OP_NIL", 0, 1, 0},
	OpTrue:     {"OP_TRUE", 0, 1, 0},
	OpFalse:    {"OP_FALSE", 0, 1, 0},
	OpPop:      {"OP_POP", 1, 0, 0},

	OpGetLocal:     {"OP_GET_LOCAL", 0, 1, 1},
	OpSetLocal:     {"OP_SET_LOCAL", 1, 1, 1},
	OpGetGlobal:    {"OP_GET_GLOBAL", 0, 1, 2},
	OpDefineGlobal: {"OP_DEFINE_GLOBAL", 1, 0, 2},
	OpSetGlobal:    {"OP_SET_GLOBAL", 1, 1, 2},

	OpEqual:   {"OP_EQUAL", 2, 1, 0},
	OpGreater: {"OP_GREATER", 2, 1, 0},
	OpLess:    {"OP_LESS", 2, 1, 0},

	OpAdd:      {"OP_ADD", 2, 1, 0},
	OpSubtract: {"OP_SUBTRACT", 2, 1, 0},
	OpMultiply: {"OP_MULTIPLY", 2, 1, 0},
	OpDivide:   {"OP_DIVIDE", 2, 1, 0},
	OpNegate:   {"OP_NEGATE", 1, 1, 0},

	OpNot: {"OP_NOT", 1, 1, 0},

	OpPrint:    {"OP_PRINT", 1, 0, 0},
	OpAssertEq: {"OP_ASSERT_EQ", 2, 0, 0},

	OpJump:        {"OP_JUMP", 0, 0, 2},
	OpJumpIfFalse: {"OP_JUMP_IF_FALSE", 1, 1, 2},
	OpLoop:        {"OP_LOOP", 0, 0, 2},

	// The result is popped only when the stack holds one
	OpReturn: {"OP_RETURN", 0, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode is a jump instruction.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpLoop
}

// IsReturn returns true if this opcode terminates execution.
func (op Opcode) IsReturn() bool {
	return op == OpReturn
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
