// Package vm executes compiled Yellowstone chunks on a stack machine.
//
// A VM owns an operand stack, a global Table and a Heap of the objects it
// has allocated or adopted. Globals survive across calls to Interpret, so a
// REPL can feed one line at a time into the same VM. Heap objects live until
// the host calls FreeObjects.
package vm

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/yellowstone/compiler"
	"github.com/chazu/yellowstone/pkg/bytecode"
	"github.com/chazu/yellowstone/value"
)

// DefaultStackLimit is the default maximum operand stack depth.
const DefaultStackLimit = 1024

// State is the lifecycle state of a VM.
type State int

const (
	StateReady State = iota
	StateRunning
	StateReturned
	StateError
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateReturned:
		return "returned"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// VM is a Yellowstone virtual machine. It is not safe for concurrent use.
type VM struct {
	id    string
	state State

	chunk   *bytecode.Chunk
	ip      int
	opStart int // offset of the instruction being executed
	stack   []value.Value

	globals *Table
	heap    *Heap

	out        io.Writer
	trace      bool
	stackLimit int
	logger     commonlog.Logger
}

// Option configures a VM.
type Option func(*VM)

// WithOutput sets the writer print statements go to. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(vm *VM) { vm.out = w }
}

// WithTrace logs every instruction and the stack at debug level.
func WithTrace(on bool) Option {
	return func(vm *VM) { vm.trace = on }
}

// WithStackLimit caps the operand stack depth.
func WithStackLimit(n int) Option {
	return func(vm *VM) {
		if n > 0 {
			vm.stackLimit = n
		}
	}
}

// WithLogger replaces the "yellowstone.vm" logger.
func WithLogger(l commonlog.Logger) Option {
	return func(vm *VM) { vm.logger = l }
}

// New creates a VM in the ready state.
func New(opts ...Option) *VM {
	vm := &VM{
		id:         uuid.NewString(),
		globals:    NewTable(),
		heap:       NewHeap(),
		out:        os.Stdout,
		stackLimit: DefaultStackLimit,
		logger:     commonlog.GetLogger("yellowstone.vm"),
	}
	for _, opt := range opts {
		opt(vm)
	}
	vm.stack = make([]value.Value, 0, min(vm.stackLimit, 256))
	return vm
}

// ID returns the unique identifier of this VM instance.
func (vm *VM) ID() string { return vm.id }

// State returns the lifecycle state.
func (vm *VM) State() State { return vm.state }

// Globals returns the global variable table.
func (vm *VM) Globals() *Table { return vm.globals }

// Heap returns the object registry.
func (vm *VM) Heap() *Heap { return vm.heap }

// Interpret compiles source and executes it. The result is the value the
// program returned, or nil if it returned nothing. Compile failures are
// returned as *compiler.CompileError.
func (vm *VM) Interpret(source string) (*value.Value, error) {
	chunk, err := compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	return vm.Execute(chunk)
}

// Execute runs chunk from its first instruction on an empty stack. The
// chunk's object constants are adopted into the heap.
func (vm *VM) Execute(chunk *bytecode.Chunk) (result *value.Value, err error) {
	if verr := chunk.Validate(); verr != nil {
		vm.state = StateError
		return nil, &RuntimeError{Kind: KindInvalidBytecode, Message: verr.Error()}
	}

	for _, c := range chunk.Constants {
		if obj, oerr := c.AsObject(); oerr == nil {
			vm.heap.Track(obj)
		}
	}

	vm.chunk = chunk
	vm.ip = 0
	vm.stack = vm.stack[:0]
	vm.state = StateRunning

	defer func() {
		if r := recover(); r != nil {
			err = &RuntimeError{
				Kind:    KindInvalidBytecode,
				Message: fmt.Sprintf("malformed chunk: %v", r),
				Line:    vm.chunk.LineAt(vm.opStart),
			}
		}
		if err != nil {
			vm.state = StateError
			vm.logger.Debugf("vm %s: %v", vm.id, err)
			return
		}
		vm.state = StateReturned
	}()

	return vm.run()
}

// FreeObjects releases every object the VM has tracked and returns how
// many were swept. Values still held in globals must not be used afterwards.
func (vm *VM) FreeObjects() int {
	n := vm.heap.Sweep()
	vm.logger.Debugf("vm %s: swept %d objects", vm.id, n)
	return n
}

// run is the main execution loop.
func (vm *VM) run() (*value.Value, error) {
	code := vm.chunk.Code

	for {
		if vm.ip >= len(code) {
			// Chunks from the compiler always end in OP_RETURN
			return vm.popResult(), nil
		}

		if vm.trace {
			vm.traceInstruction()
		}

		vm.opStart = vm.ip
		op := bytecode.Opcode(code[vm.ip])
		vm.ip++

		switch op {
		// ============ Constants ============
		case bytecode.OpConstant:
			if err := vm.push(vm.readConstant()); err != nil {
				return nil, err
			}

		case bytecode.OpNil:
			if err := vm.push(value.Nil()); err != nil {
				return nil, err
			}

		case bytecode.OpTrue:
			if err := vm.push(value.Bool(true)); err != nil {
				return nil, err
			}

		case bytecode.OpFalse:
			if err := vm.push(value.Bool(false)); err != nil {
				return nil, err
			}

		case bytecode.OpPop:
			vm.pop()

		// ============ Variables ============
		case bytecode.OpGetLocal:
			slot := vm.readByte()
			if err := vm.push(vm.stack[slot]); err != nil {
				return nil, err
			}

		case bytecode.OpSetLocal:
			slot := vm.readByte()
			vm.stack[slot] = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := vm.readName()
			v, ok := vm.globals.Get(name)
			if !ok {
				return nil, vm.undefined(name)
			}
			if err := vm.push(v); err != nil {
				return nil, err
			}

		case bytecode.OpDefineGlobal:
			name := vm.readName()
			vm.setGlobal(name, vm.pop())

		case bytecode.OpSetGlobal:
			name := vm.readName()
			if _, ok := vm.globals.Get(name); !ok {
				return nil, vm.undefined(name)
			}
			vm.setGlobal(name, vm.peek(0))

		// ============ Comparison ============
		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			if !value.SameType(a, b) {
				return nil, vm.errorf(KindTypeMismatch, "Operands must be the same type.")
			}
			vm.push(value.Bool(value.Equal(a, b)))

		case bytecode.OpGreater, bytecode.OpLess,
			bytecode.OpSubtract, bytecode.OpMultiply, bytecode.OpDivide:
			if err := vm.binaryNumber(op); err != nil {
				return nil, err
			}

		// ============ Arithmetic ============
		case bytecode.OpAdd:
			if err := vm.add(); err != nil {
				return nil, err
			}

		case bytecode.OpNegate:
			n, err := vm.peek(0).AsNumber()
			if err != nil {
				return nil, vm.errorf(KindTypeMismatch, "Operand must be a number.")
			}
			vm.stack[len(vm.stack)-1] = value.Number(-n)

		case bytecode.OpNot:
			vm.push(value.Bool(!vm.pop().Truthy()))

		// ============ Statements ============
		case bytecode.OpPrint:
			fmt.Fprintln(vm.out, vm.pop().String())

		case bytecode.OpAssertEq:
			if err := vm.assertEq(); err != nil {
				return nil, err
			}

		// ============ Control Flow ============
		case bytecode.OpJump:
			offset := vm.readUint16()
			vm.ip += int(offset)

		case bytecode.OpJumpIfFalse:
			offset := vm.readUint16()
			if !vm.peek(0).Truthy() {
				vm.ip += int(offset)
			}

		case bytecode.OpLoop:
			offset := vm.readUint16()
			vm.ip -= int(offset)

		case bytecode.OpReturn:
			return vm.popResult(), nil

		default:
			return nil, vm.errorf(KindInvalidBytecode, "unknown opcode: 0x%02x at offset %d", byte(op), vm.opStart)
		}
	}
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func (vm *VM) binaryNumber(op bytecode.Opcode) error {
	b, errB := vm.peek(0).AsNumber()
	a, errA := vm.peek(1).AsNumber()
	if errA != nil || errB != nil {
		return vm.errorf(KindTypeMismatch, "Operands must be numbers.")
	}
	vm.pop()
	vm.pop()

	switch op {
	case bytecode.OpGreater:
		vm.push(value.Bool(a > b))
	case bytecode.OpLess:
		vm.push(value.Bool(a < b))
	case bytecode.OpSubtract:
		vm.push(value.Number(a - b))
	case bytecode.OpMultiply:
		vm.push(value.Number(a * b))
	case bytecode.OpDivide:
		vm.push(value.Number(a / b))
	}
	return nil
}

// add sums two numbers or concatenates two strings. The new string is
// tracked by the heap.
func (vm *VM) add() error {
	top, below := vm.peek(0), vm.peek(1)

	if top.IsString() && below.IsString() {
		b, _ := top.AsStringObject()
		a, _ := below.AsStringObject()
		vm.pop()
		vm.pop()

		s := value.Concat(a, b)
		vm.heap.Track(s)
		vm.push(value.FromObject(s))
		return nil
	}

	if top.IsNumber() && below.IsNumber() {
		b, _ := top.AsNumber()
		a, _ := below.AsNumber()
		vm.pop()
		vm.pop()
		vm.push(value.Number(a + b))
		return nil
	}

	return vm.errorf(KindTypeMismatch, "Operands must be two numbers or two strings.")
}

func (vm *VM) assertEq() error {
	actual := vm.pop()
	expected := vm.pop()

	if !value.SameType(expected, actual) {
		return vm.errorf(KindAssertionTypeMismatch,
			"assert_eq type mismatch: %s vs %s", expected.TypeName(), actual.TypeName())
	}
	if !value.Equal(expected, actual) {
		return vm.errorf(KindAssertionFailed,
			"assert_eq failed: %s != %s", describe(expected), describe(actual))
	}
	return nil
}

// setGlobal binds name, moving the table's reference from the old value to
// the new one.
func (vm *VM) setGlobal(name string, v value.Value) {
	if old, ok := vm.globals.Get(name); ok {
		if obj, err := old.AsObject(); err == nil {
			obj.Release()
		}
	}
	if obj, err := v.AsObject(); err == nil {
		obj.Retain()
	}
	vm.globals.Set(name, v)
}

// ---------------------------------------------------------------------------
// Stack and decoding helpers
// ---------------------------------------------------------------------------

func (vm *VM) push(v value.Value) error {
	if len(vm.stack) >= vm.stackLimit {
		return vm.errorf(KindStackOverflow, "Stack overflow (limit %d).", vm.stackLimit)
	}
	vm.stack = append(vm.stack, v)
	return nil
}

func (vm *VM) pop() value.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[len(vm.stack)-1-distance]
}

func (vm *VM) popResult() *value.Value {
	if len(vm.stack) == 0 {
		return nil
	}
	v := vm.pop()
	return &v
}

func (vm *VM) readByte() byte {
	b := vm.chunk.Code[vm.ip]
	vm.ip++
	return b
}

func (vm *VM) readUint16() uint16 {
	v := vm.chunk.ReadUint16(vm.ip)
	vm.ip += 2
	return v
}

func (vm *VM) readConstant() value.Value {
	return vm.chunk.Constant(int(vm.readUint16()))
}

// readName reads a constant that Validate guarantees is a string.
func (vm *VM) readName() string {
	name, _ := vm.readConstant().AsString()
	return name
}

func (vm *VM) undefined(name string) error {
	return vm.errorf(KindUndefinedVariable, "Undefined variable '%s'.", name)
}

func (vm *VM) errorf(kind ErrorKind, format string, args ...any) *RuntimeError {
	return &RuntimeError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Line:    vm.chunk.LineAt(vm.opStart),
	}
}

func (vm *VM) traceInstruction() {
	var sb strings.Builder
	for _, v := range vm.stack {
		sb.WriteString("[ ")
		sb.WriteString(describe(v))
		sb.WriteString(" ]")
	}
	text, _ := vm.chunk.DisassembleInstruction(vm.ip)
	vm.logger.Debugf("%-40s %s", text, sb.String())
}

// describe renders a value for diagnostics, quoting strings.
func describe(v value.Value) string {
	if v.IsString() {
		return fmt.Sprintf("%q", v.String())
	}
	return v.String()
}
