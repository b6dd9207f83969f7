// Package bytecode defines the compiled form of a Yellowstone program.
//
// A Chunk holds three things:
//
//   - Code: opcode bytes followed by big-endian operands
//   - Constants: the pool of literal values and global names
//   - Lines: a run-length table mapping every code byte to its source line
//
// The compiler appends to a Chunk as it parses and the virtual machine
// executes it. Jump operands are emitted as placeholders and patched once
// the target is known.
//
// # Instruction Format
//
// Every instruction is one opcode byte followed by OperandLen operand bytes:
//
//   - u16 constant index: OpConstant, OpGetGlobal, OpDefineGlobal, OpSetGlobal
//   - u8 stack slot: OpGetLocal, OpSetLocal
//   - u16 distance: OpJump, OpJumpIfFalse (forward) and OpLoop (backward),
//     measured from the byte after the operand
//
// # Snapshots
//
// MarshalChunk and UnmarshalChunk encode a chunk as canonical CBOR tagged
// with the "YSBC" magic and BytecodeVersion. The format carries no stability
// promise across versions; snapshots from another version are rejected.
package bytecode
