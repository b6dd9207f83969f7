// Package compiler turns Yellowstone source into bytecode in a single pass.
//
// There is no syntax tree. A Pratt parser pulls tokens from the Lexer and
// each grammar rule emits its instructions into a bytecode.Chunk as soon as
// it is recognized. Locals are resolved to stack slots at compile time;
// every other name is a global looked up by name at run time.
package compiler

import (
	"fmt"
	"strconv"

	"github.com/tliron/commonlog"

	"github.com/chazu/yellowstone/pkg/bytecode"
	"github.com/chazu/yellowstone/value"
)

// Compiler holds the state of one compilation.
type Compiler struct {
	lexer    *Lexer
	current  Token
	previous Token

	chunk *bytecode.Chunk
	names map[string]uint16 // global name -> constant index

	locals []Local
	depth  int
	bodies int // nesting of if/while/for bodies

	diagnostics []Diagnostic
	panicMode   bool
}

// Compile compiles source into a chunk ending in OP_RETURN. If any error is
// reported the chunk is discarded and a *CompileError carrying every
// diagnostic is returned.
func Compile(source string) (*bytecode.Chunk, error) {
	c := &Compiler{
		lexer: NewLexer(source),
		chunk: bytecode.NewChunk(),
		names: make(map[string]uint16),
	}

	c.advance()
	for !c.match(TokenEOF) {
		c.declaration()
	}
	c.emitOp(bytecode.OpReturn)

	log := commonlog.GetLogger("yellowstone.compiler")
	if len(c.diagnostics) > 0 {
		log.Debugf("compile failed with %d diagnostics", len(c.diagnostics))
		return nil, &CompileError{Diagnostics: c.diagnostics}
	}

	log.Debugf("compiled %d bytes, %d constants", c.chunk.CodeLen(), c.chunk.ConstantCount())
	return c.chunk, nil
}

// ---------------------------------------------------------------------------
// Token stream
// ---------------------------------------------------------------------------

func (c *Compiler) advance() {
	c.previous = c.current

	for {
		c.current = c.lexer.NextToken()
		if c.current.Type != TokenError {
			break
		}
		c.errorAtCurrent(c.current.Literal)
	}
}

func (c *Compiler) check(t TokenType) bool {
	return c.current.Type == t
}

func (c *Compiler) match(t TokenType) bool {
	if !c.check(t) {
		return false
	}
	c.advance()
	return true
}

func (c *Compiler) consume(t TokenType, message string) {
	if c.check(t) {
		c.advance()
		return
	}
	c.errorAtCurrent(message)
}

// ---------------------------------------------------------------------------
// Error reporting
// ---------------------------------------------------------------------------

func (c *Compiler) error(message string) {
	c.errorAt(c.previous, message)
}

func (c *Compiler) errorAtCurrent(message string) {
	c.errorAt(c.current, message)
}

// errorAt records a diagnostic unless the compiler is already in panic
// mode, in which case it stays quiet until synchronize.
func (c *Compiler) errorAt(tok Token, message string) {
	if c.panicMode {
		return
	}
	c.panicMode = true

	var where string
	switch tok.Type {
	case TokenEOF:
		where = " at end"
	case TokenError:
		// Lexical errors carry their message as the literal
	default:
		where = fmt.Sprintf(" at '%s'", tok.Literal)
	}

	c.diagnostics = append(c.diagnostics, Diagnostic{Line: tok.Line, Column: tok.Column, Where: where, Message: message})
}

// synchronize skips tokens until a statement boundary.
func (c *Compiler) synchronize() {
	c.panicMode = false

	for c.current.Type != TokenEOF {
		if c.previous.Type == TokenSemicolon {
			return
		}
		switch c.current.Type {
		case TokenClass, TokenFun, TokenVar, TokenFor, TokenIf,
			TokenWhile, TokenPrint, TokenReturn, TokenAssertEq:
			return
		}
		c.advance()
	}
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (c *Compiler) emitOp(op bytecode.Opcode) {
	c.chunk.Emit(op, c.previous.Line)
}

func (c *Compiler) emitOps(ops ...bytecode.Opcode) {
	for _, op := range ops {
		c.emitOp(op)
	}
}

func (c *Compiler) emitByteOperand(op bytecode.Opcode, operand byte) {
	c.chunk.EmitWithOperand(op, c.previous.Line, operand)
}

func (c *Compiler) emitUint16Operand(op bytecode.Opcode, operand uint16) {
	c.chunk.EmitUint16(op, operand, c.previous.Line)
}

// makeConstant adds v to the pool and returns its index.
func (c *Compiler) makeConstant(v value.Value) uint16 {
	if c.chunk.ConstantCount() >= bytecode.MaxConstants {
		c.error("Too many constants in one chunk.")
		return 0
	}
	return uint16(c.chunk.AddConstant(v))
}

func (c *Compiler) emitConstant(v value.Value) {
	c.emitUint16Operand(bytecode.OpConstant, c.makeConstant(v))
}

// identifierConstant interns a global name in the constant pool.
func (c *Compiler) identifierConstant(name string) uint16 {
	if idx, ok := c.names[name]; ok {
		return idx
	}
	idx := c.makeConstant(value.String(name))
	c.names[name] = idx
	return idx
}

// emitJump emits op with a placeholder distance and returns the offset of
// the operand for patchJump.
func (c *Compiler) emitJump(op bytecode.Opcode) int {
	return c.chunk.EmitJump(op, c.previous.Line)
}

// patchJump points the jump whose operand is at offset to the end of the code.
func (c *Compiler) patchJump(offset int) {
	if err := c.chunk.PatchJump(offset); err != nil {
		c.error("Too much code to jump over.")
	}
}

func (c *Compiler) emitLoop(loopStart int) {
	if err := c.chunk.EmitLoop(loopStart, c.previous.Line); err != nil {
		c.error("Loop body too large.")
	}
}

// ---------------------------------------------------------------------------
// Declarations and statements
// ---------------------------------------------------------------------------

func (c *Compiler) declaration() {
	switch {
	case c.match(TokenVar):
		c.varDeclaration()
	case c.match(TokenFun), c.match(TokenClass):
		c.unsupported(false)
	default:
		c.statement()
	}

	if c.panicMode {
		c.synchronize()
	}
}

func (c *Compiler) varDeclaration() {
	c.consume(TokenIdentifier, "Expect variable name.")
	name := c.previous.Literal

	var (
		global     uint16
		slot       int
		redeclared bool
	)
	if c.depth > 0 {
		slot, redeclared = c.declareLocal(name)
	} else {
		global = c.identifierConstant(name)
	}

	if c.match(TokenEqual) {
		c.expression()
	} else {
		c.emitOp(bytecode.OpNil)
	}
	c.consume(TokenSemicolon, "Expect ';' after variable declaration.")

	if c.depth == 0 {
		c.emitUint16Operand(bytecode.OpDefineGlobal, global)
		return
	}
	if redeclared {
		// The value sits above the existing slot; move it in.
		c.emitByteOperand(bytecode.OpSetLocal, byte(slot))
		c.emitOp(bytecode.OpPop)
	}
	c.markInitialized(slot)
}

func (c *Compiler) statement() {
	switch {
	case c.match(TokenPrint):
		c.printStatement()
	case c.match(TokenAssertEq):
		c.assertEqStatement()
	case c.match(TokenIf):
		c.ifStatement()
	case c.match(TokenWhile):
		c.whileStatement()
	case c.match(TokenFor):
		c.forStatement()
	case c.match(TokenReturn):
		c.returnStatement()
	case c.match(TokenLeftBrace):
		c.beginScope()
		c.block()
		c.endScope()
	default:
		c.expressionStatement()
	}
}

// body compiles the statement governed by an if, while or for.
func (c *Compiler) body() {
	c.bodies++
	c.statement()
	c.bodies--
}

func (c *Compiler) block() {
	for !c.check(TokenRightBrace) && !c.check(TokenEOF) {
		c.declaration()
	}
	c.consume(TokenRightBrace, "Expect '}' after block.")
}

func (c *Compiler) printStatement() {
	c.expression()
	c.consume(TokenSemicolon, "Expect ';' after value.")
	c.emitOp(bytecode.OpPrint)
}

func (c *Compiler) assertEqStatement() {
	c.consume(TokenLeftParen, "Expect '(' after 'assert_eq'.")
	c.expression()
	c.consume(TokenComma, "Expect ',' after expression.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after arguments.")
	c.consume(TokenSemicolon, "Expect ';' after statement.")
	c.emitOp(bytecode.OpAssertEq)
}

func (c *Compiler) ifStatement() {
	c.consume(TokenLeftParen, "Expect '(' after 'if'.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after condition.")

	thenJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.body()

	elseJump := c.emitJump(bytecode.OpJump)
	c.patchJump(thenJump)
	c.emitOp(bytecode.OpPop)

	if c.match(TokenElse) {
		c.body()
	}
	c.patchJump(elseJump)
}

func (c *Compiler) whileStatement() {
	loopStart := c.chunk.CurrentOffset()
	c.consume(TokenLeftParen, "Expect '(' after 'while'.")
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after condition.")

	exitJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.body()
	c.emitLoop(loopStart)

	c.patchJump(exitJump)
	c.emitOp(bytecode.OpPop)
}

func (c *Compiler) forStatement() {
	c.beginScope()
	c.consume(TokenLeftParen, "Expect '(' after 'for'.")

	switch {
	case c.match(TokenSemicolon):
		// No initializer
	case c.match(TokenVar):
		c.varDeclaration()
	default:
		c.expression()
		c.consume(TokenSemicolon, "Expect ';' after expression.")
		c.emitOp(bytecode.OpPop)
	}

	loopStart := c.chunk.CurrentOffset()
	exitJump := -1
	if !c.match(TokenSemicolon) {
		c.expression()
		c.consume(TokenSemicolon, "Expect ';' after loop condition.")

		exitJump = c.emitJump(bytecode.OpJumpIfFalse)
		c.emitOp(bytecode.OpPop)
	}

	if !c.match(TokenRightParen) {
		bodyJump := c.emitJump(bytecode.OpJump)
		incrementStart := c.chunk.CurrentOffset()
		c.expression()
		c.emitOp(bytecode.OpPop)
		c.consume(TokenRightParen, "Expect ')' after for clauses.")

		c.emitLoop(loopStart)
		loopStart = incrementStart
		c.patchJump(bodyJump)
	}

	c.body()
	c.emitLoop(loopStart)

	if exitJump != -1 {
		c.patchJump(exitJump)
		c.emitOp(bytecode.OpPop)
	}

	c.endScope()
}

// returnStatement halts the program, yielding the value if one is given.
// The trailing semicolon is optional.
func (c *Compiler) returnStatement() {
	if c.check(TokenSemicolon) || c.check(TokenRightBrace) || c.check(TokenEOF) {
		c.emitOp(bytecode.OpNil)
	} else {
		c.expression()
	}
	c.match(TokenSemicolon)
	c.emitOp(bytecode.OpReturn)
}

// expressionStatement discards the value of an expression. The last
// statement of a program may omit its semicolon, in which case its value
// is left on the stack as the program result.
func (c *Compiler) expressionStatement() {
	c.expression()

	switch {
	case c.match(TokenSemicolon), c.check(TokenRightBrace):
		c.emitOp(bytecode.OpPop)
	case c.check(TokenEOF) && c.depth == 0 && c.bodies == 0:
		// Program result
	default:
		c.errorAtCurrent("Expect ';' after expression.")
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Compiler) expression() {
	c.parsePrecedence(precAssignment)
}

// parsePrecedence parses an expression whose operators bind at least as
// tightly as prec.
func (c *Compiler) parsePrecedence(prec precedence) {
	c.advance()
	prefix := getRule(c.previous.Type).prefix
	if prefix == nil {
		c.error("Expect expression.")
		return
	}

	canAssign := prec <= precAssignment
	prefix(c, canAssign)

	for prec <= getRule(c.current.Type).precedence {
		c.advance()
		getRule(c.previous.Type).infix(c, canAssign)
	}

	if canAssign && c.match(TokenEqual) {
		c.error("Invalid assignment target.")
	}
}

func (c *Compiler) grouping(canAssign bool) {
	c.expression()
	c.consume(TokenRightParen, "Expect ')' after expression.")
}

func (c *Compiler) number(canAssign bool) {
	n, err := strconv.ParseFloat(c.previous.Literal, 32)
	if err != nil {
		c.error("Invalid number literal.")
		return
	}
	c.emitConstant(value.Number(float32(n)))
}

func (c *Compiler) str(canAssign bool) {
	lit := c.previous.Literal
	c.emitConstant(value.String(lit[1 : len(lit)-1]))
}

func (c *Compiler) literal(canAssign bool) {
	switch c.previous.Type {
	case TokenFalse:
		c.emitOp(bytecode.OpFalse)
	case TokenNil:
		c.emitOp(bytecode.OpNil)
	case TokenTrue:
		c.emitOp(bytecode.OpTrue)
	}
}

func (c *Compiler) variable(canAssign bool) {
	c.namedVariable(c.previous.Literal, canAssign)
}

func (c *Compiler) namedVariable(name string, canAssign bool) {
	var get, set func()

	if slot, ok := c.resolveLocal(name); ok {
		get = func() { c.emitByteOperand(bytecode.OpGetLocal, byte(slot)) }
		set = func() { c.emitByteOperand(bytecode.OpSetLocal, byte(slot)) }
	} else {
		idx := c.identifierConstant(name)
		get = func() { c.emitUint16Operand(bytecode.OpGetGlobal, idx) }
		set = func() { c.emitUint16Operand(bytecode.OpSetGlobal, idx) }
	}

	if canAssign && c.match(TokenEqual) {
		c.expression()
		set()
		return
	}
	get()
}

func (c *Compiler) unary(canAssign bool) {
	op := c.previous.Type
	c.parsePrecedence(precUnary)

	switch op {
	case TokenMinus:
		c.emitOp(bytecode.OpNegate)
	case TokenBang:
		c.emitOp(bytecode.OpNot)
	}
}

func (c *Compiler) binary(canAssign bool) {
	op := c.previous.Type
	c.parsePrecedence(getRule(op).precedence + 1)

	switch op {
	case TokenBangEqual:
		c.emitOps(bytecode.OpEqual, bytecode.OpNot)
	case TokenEqualEqual:
		c.emitOp(bytecode.OpEqual)
	case TokenGreater:
		c.emitOp(bytecode.OpGreater)
	case TokenGreaterEqual:
		c.emitOps(bytecode.OpLess, bytecode.OpNot)
	case TokenLess:
		c.emitOp(bytecode.OpLess)
	case TokenLessEqual:
		c.emitOps(bytecode.OpGreater, bytecode.OpNot)
	case TokenPlus:
		c.emitOp(bytecode.OpAdd)
	case TokenMinus:
		c.emitOp(bytecode.OpSubtract)
	case TokenStar:
		c.emitOp(bytecode.OpMultiply)
	case TokenSlash:
		c.emitOp(bytecode.OpDivide)
	}
}

// and leaves the left operand on the stack when it is falsey.
func (c *Compiler) and(canAssign bool) {
	endJump := c.emitJump(bytecode.OpJumpIfFalse)
	c.emitOp(bytecode.OpPop)
	c.parsePrecedence(precAnd)
	c.patchJump(endJump)
}

// or leaves the left operand on the stack when it is truthy.
func (c *Compiler) or(canAssign bool) {
	elseJump := c.emitJump(bytecode.OpJumpIfFalse)
	endJump := c.emitJump(bytecode.OpJump)

	c.patchJump(elseJump)
	c.emitOp(bytecode.OpPop)

	c.parsePrecedence(precOr)
	c.patchJump(endJump)
}

// unsupported rejects reserved words for features the language lacks.
func (c *Compiler) unsupported(canAssign bool) {
	c.error(fmt.Sprintf("'%s' is not supported.", c.previous.Literal))
}
