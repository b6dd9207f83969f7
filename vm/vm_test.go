package vm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/yellowstone/compiler"
	"github.com/chazu/yellowstone/pkg/bytecode"
	"github.com/chazu/yellowstone/value"
)

func newTestVM(t *testing.T) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return New(WithOutput(&out)), &out
}

func interpretNumber(t *testing.T, source string) float32 {
	t.Helper()
	vm, _ := newTestVM(t)
	result, err := vm.Interpret(source)
	require.NoError(t, err, "source: %s", source)
	require.NotNil(t, result, "source: %s", source)
	n, err := result.AsNumber()
	require.NoError(t, err)
	return n
}

func runOK(t *testing.T, vm *VM, source string) {
	t.Helper()
	_, err := vm.Interpret(source)
	require.NoError(t, err, "source: %s", source)
}

func runtimeError(t *testing.T, source string) *RuntimeError {
	t.Helper()
	vm, _ := newTestVM(t)
	_, err := vm.Interpret(source)
	require.Error(t, err, "source: %s", source)

	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr), "error %T is not a *RuntimeError: %v", err, err)
	assert.Equal(t, StateError, vm.State())
	return rerr
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		source string
		want   float32
	}{
		{"1", 1},
		{"2022", 2022},
		{"(1)", 1},
		{"1 + 1", 2},
		{"1 - 2", -1},
		{"3 / 2", 1.5},
		{"2 * 2", 4},
		{"-3", -3},
		{"--3", 3},
		{"2 * (1 + 1)", 4},
		{"(2 * -1) + 4 / 4", -1},
		{"2 * ((-1 + 4 / 4) - 2)", -4},
		{"10 - 4 - 3", 3},
		{"16 / 4 / 2", 2},
	}

	for _, tt := range tests {
		if got := interpretNumber(t, tt.source); got != tt.want {
			t.Errorf("Interpret(%q) = %v, want %v", tt.source, got, tt.want)
		}
	}
}

func TestComparisonAndLogic(t *testing.T) {
	tests := []struct {
		source string
		want   bool
	}{
		{"1 < 2", true},
		{"2 <= 2", true},
		{"3 > 4", false},
		{"4 >= 4", true},
		{"1 == 1", true},
		{"1 != 1", false},
		{`"a" == "a"`, true},
		{`"a" != "b"`, true},
		{"nil == nil", true},
		{"true == false", false},
		{"!nil", true},
		{"!false", true},
		{"!0", false},
		{`!""`, false},
		{"!true", false},
		{"true and false", false},
		{"true or false", true},
		{"nil or true", true},
	}

	for _, tt := range tests {
		vm, _ := newTestVM(t)
		result, err := vm.Interpret(tt.source)
		require.NoError(t, err, "source: %s", tt.source)
		require.NotNil(t, result)
		got, err := result.AsBool()
		require.NoError(t, err, "source: %s", tt.source)
		assert.Equal(t, tt.want, got, "source: %s", tt.source)
	}
}

func TestShortCircuitLeavesDecidingOperand(t *testing.T) {
	vm, _ := newTestVM(t)

	result, err := vm.Interpret(`nil and "never"`)
	require.NoError(t, err)
	assert.True(t, result.IsNil())

	result, err = vm.Interpret(`"first" or "second"`)
	require.NoError(t, err)
	s, _ := result.AsString()
	assert.Equal(t, "first", s)

	// The right side is never evaluated
	runOK(t, vm, "false and undefinedName; true or undefinedName;")
}

func TestStringConcatenation(t *testing.T) {
	vm, _ := newTestVM(t)
	runOK(t, vm, `var beverage = "cafe au lait";`)

	result, err := vm.Interpret(`"beignets with " + beverage`)
	require.NoError(t, err)
	require.NotNil(t, result)

	s, err := result.AsString()
	require.NoError(t, err)
	assert.Equal(t, "beignets with cafe au lait", s)
}

func TestPrint(t *testing.T) {
	vm, out := newTestVM(t)
	runOK(t, vm, `print 1; print 2.5; print "hi"; print nil; print true; print 1 == 2;`)
	assert.Equal(t, "1\n2.5\nhi\nnil\ntrue\nfalse\n", out.String())
}

func TestNoResult(t *testing.T) {
	vm, _ := newTestVM(t)
	result, err := vm.Interpret("var x = 1;")
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, StateReturned, vm.State())
}

func TestReturnStatement(t *testing.T) {
	vm, out := newTestVM(t)
	result, err := vm.Interpret(`print "before"; return 7; print "after";`)
	require.NoError(t, err)
	require.NotNil(t, result)
	n, _ := result.AsNumber()
	assert.Equal(t, float32(7), n)
	assert.Equal(t, "before\n", out.String())
}

func TestAssertEq(t *testing.T) {
	passing := []string{
		"var foo = true; assert_eq(foo, true);",
		"var foo = 42; assert_eq(foo, 42);",
		"var foo = nil; assert_eq(foo, nil);",
		`var foo = "foo"; assert_eq(foo, "foo");`,
	}
	for _, source := range passing {
		vm, _ := newTestVM(t)
		runOK(t, vm, source)
	}

	failed := runtimeError(t, "var foo = true; assert_eq(foo, false);")
	assert.Equal(t, KindAssertionFailed, failed.Kind)
	assert.ErrorIs(t, failed, ErrAssertion)

	mismatch := runtimeError(t, `assert_eq(1, "1");`)
	assert.Equal(t, KindAssertionTypeMismatch, mismatch.Kind)
	assert.ErrorIs(t, mismatch, ErrAssertion)
	assert.NotEqual(t, failed.Kind, mismatch.Kind)

	nilVsFalse := runtimeError(t, "assert_eq(nil, false);")
	assert.Equal(t, KindAssertionTypeMismatch, nilVsFalse.Kind)
}

func TestGlobals(t *testing.T) {
	vm, _ := newTestVM(t)
	runOK(t, vm, `
		var lang = "yellowstone";
		var num = 9;
		var truth = true;
		var null = nil;

		assert_eq(lang, "yellowstone");
		assert_eq(num, 9);
		assert_eq(truth, true);
		assert_eq(null, nil);
	`)

	assert.Equal(t, 4, vm.Globals().Len())
	v, ok := vm.Globals().Get("num")
	require.True(t, ok)
	n, _ := v.AsNumber()
	assert.Equal(t, float32(9), n)
}

func TestGlobalRedefinition(t *testing.T) {
	vm, _ := newTestVM(t)
	runOK(t, vm, "var a = 1; var a = 2; assert_eq(a, 2);")
}

func TestGlobalAssignmentIsExpression(t *testing.T) {
	vm, _ := newTestVM(t)
	runOK(t, vm, "var a; var b; a = b = 3; assert_eq(a, 3); assert_eq(b, 3);")
}

func TestLocals(t *testing.T) {
	sources := []string{
		`{ var lang = "yellowstone"; }`,
		`{ var lang = "yellowstone"; assert_eq(lang, "yellowstone"); }`,
		`var start = "yellow";
		{
			var end = "stone";
			assert_eq(end, "stone");
			assert_eq(start, "yellow");
		}`,
		`var foo = "yellow";
		{
			var bar = "stone";
			foo = foo + bar;
		}
		assert_eq(foo, "yellowstone");`,
		`var foo = 9;
		{
			var bar = 1;
			foo = foo + bar;
		}
		assert_eq(foo, 10);`,
		`var foo = 0;
		{
			foo = foo + 1;
		}
		{
			var bar = 2;
			foo = foo - bar;
		}
		assert_eq(foo, -1);`,
		`{
			var foo = "Hello World!";
			assert_eq(foo, "Hello World!");
		}
		{
			var bar = 10;
			assert_eq(bar, 10);
		}`,
		`{ var a = 1; { var b = a + 1; a = b * 10; } assert_eq(a, 20); }`,
	}

	for _, source := range sources {
		vm, _ := newTestVM(t)
		runOK(t, vm, source)
	}
}

func TestLocalsDoNotLeakIntoGlobals(t *testing.T) {
	vm, _ := newTestVM(t)
	runOK(t, vm, "{ var hidden = 1; }")
	assert.Zero(t, vm.Globals().Len())
}

func TestBlockLocalUnreachableAfterScope(t *testing.T) {
	sources := []string{
		`{ var foo = "Hello World!"; } { print foo; }`,
		`{ var foo = "Hello World!"; } print foo;`,
		`{ var foo = 1; } foo = 2;`,
	}

	for _, source := range sources {
		rerr := runtimeError(t, source)
		assert.Equal(t, KindUndefinedVariable, rerr.Kind, "source: %s", source)
		assert.ErrorIs(t, rerr, ErrUndefinedVariable)
		assert.Contains(t, rerr.Message, "Undefined variable 'foo'.")
	}
}

func TestShadowing(t *testing.T) {
	vm, _ := newTestVM(t)

	// Same-depth redeclaration
	runOK(t, vm, `{
		var foo = "Hello World!";
		var foo = "Yellowstone";
		assert_eq(foo, "Yellowstone");
	}`)

	// Local shadows global; the global is untouched
	runOK(t, vm, `
		var foo = "first";
		{
			var foo = "second";
			assert_eq(foo, "second");
			foo = "changed";
			assert_eq(foo, "changed");
		}
		assert_eq(foo, "first");
	`)

	// Inner block shadows outer local
	runOK(t, vm, `{
		var x = 1;
		{
			var x = 2;
			assert_eq(x, 2);
		}
		assert_eq(x, 1);
	}`)
}

func TestRedeclarationKeepsLaterSlots(t *testing.T) {
	vm, _ := newTestVM(t)

	// Reading a in its own redeclared initializer is a compile error
	_, err := vm.Interpret("{ var a = 1; var a = a; }")
	var cerr *compiler.CompileError
	require.True(t, errors.As(err, &cerr))

	runOK(t, vm, `{
		var a = 1;
		var b = 2;
		var a = 3;
		assert_eq(a, 3);
		assert_eq(b, 2);
	}`)
}

func TestIfElse(t *testing.T) {
	sources := []string{
		`var num = 1;
		if (true) {
			num = 2
		}
		assert_eq(2, num);`,
		`var num = 1;
		if (false) {
			num = 2
		}
		assert_eq(1, num);`,
		`var num = 1;
		if (false) {
			num = 2;
		} else {
			assert_eq(1, num);
			num = 3
		}
		assert_eq(3, num);`,
		`var num = 1; if (true and true) { num = 2; } assert_eq(2, num);`,
		`var num = 1; if (false and true) { num = 2; } assert_eq(1, num);`,
		`var num = 1; if (true or false) { num = 2; } assert_eq(2, num);`,
		`var num = 1; if (false or false) { num = 2; } assert_eq(1, num);`,
		`var num = 1; if (0) num = 2; assert_eq(2, num);`,
		`var num = 1; if (nil) num = 2; else num = 3; assert_eq(3, num);`,
	}

	for _, source := range sources {
		vm, _ := newTestVM(t)
		runOK(t, vm, source)
	}
}

func TestWhile(t *testing.T) {
	vm, _ := newTestVM(t)
	runOK(t, vm, `
		var num = 1;
		while (num != 3) {
			num = num + 1;
		}
		assert_eq(3, num);
	`)
}

func TestFor(t *testing.T) {
	vm, out := newTestVM(t)
	runOK(t, vm, `
		var loops = 1;
		for (var i = 0; i < 2; i = i + 1) {
			loops = loops + 1;
		}
		assert_eq(3, loops);

		var sum = 0;
		var j = 0;
		for (; j < 4;) { sum = sum + j; j = j + 1; }
		assert_eq(6, sum);

		for (var k = 0; k < 3; k = k + 1) print k;
	`)
	assert.Equal(t, "0\n1\n2\n", out.String())

	// The loop variable is scoped to the loop
	rerr := runtimeError(t, "for (var i = 0; i < 1; i = i + 1) {} print i;")
	assert.Equal(t, KindUndefinedVariable, rerr.Kind)
}

func TestForWithoutConditionRunsUntilReturn(t *testing.T) {
	vm, _ := newTestVM(t)
	result, err := vm.Interpret("var n = 0; for (;;) { n = n + 1; if (n == 5) return n; }")
	require.NoError(t, err)
	require.NotNil(t, result)
	got, _ := result.AsNumber()
	assert.Equal(t, float32(5), got)
}

func TestTypeErrors(t *testing.T) {
	tests := []struct {
		source  string
		message string
	}{
		{`-"a"`, "Operand must be a number."},
		{`1 + "a"`, "Operands must be two numbers or two strings."},
		{`"a" + nil`, "Operands must be two numbers or two strings."},
		{`1 - true`, "Operands must be numbers."},
		{`"a" * 2`, "Operands must be numbers."},
		{`nil < 1`, "Operands must be numbers."},
		{`"a" > "b"`, "Operands must be numbers."},
		{`1 == "1"`, "Operands must be the same type."},
		{`nil != false`, "Operands must be the same type."},
	}

	for _, tt := range tests {
		rerr := runtimeError(t, tt.source)
		assert.Equal(t, KindTypeMismatch, rerr.Kind, "source: %s", tt.source)
		assert.ErrorIs(t, rerr, ErrTypeMismatch)
		assert.Equal(t, tt.message, rerr.Message, "source: %s", tt.source)
	}
}

func TestRuntimeErrorLine(t *testing.T) {
	rerr := runtimeError(t, "var a = 1;\n\nprint a + nil;")
	assert.Equal(t, 3, rerr.Line)
	assert.Equal(t, "Operands must be two numbers or two strings.\n[line 3] in script", rerr.Error())
}

func TestUndefinedGlobal(t *testing.T) {
	get := runtimeError(t, "print missing;")
	assert.Equal(t, "Undefined variable 'missing'.", get.Message)

	set := runtimeError(t, "missing = 1;")
	assert.Equal(t, KindUndefinedVariable, set.Kind)
}

func TestCompileErrorPassesThrough(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.Interpret("print ;")

	var cerr *compiler.CompileError
	require.True(t, errors.As(err, &cerr))
	var rerr *RuntimeError
	assert.False(t, errors.As(err, &rerr))
	assert.Equal(t, StateReady, vm.State())
}

func TestStackOverflow(t *testing.T) {
	var out bytes.Buffer
	vm := New(WithOutput(&out), WithStackLimit(4))

	_, err := vm.Interpret("{ var a = 1; var b = 2; var c = 3; var d = 4; var e = 5; }")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStackOverflow)

	var rerr *RuntimeError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, KindStackOverflow, rerr.Kind)
}

func TestGlobalsPersistAcrossInterpret(t *testing.T) {
	vm, out := newTestVM(t)
	runOK(t, vm, "var count = 1;")
	runOK(t, vm, "count = count + 1;")
	runOK(t, vm, "print count;")
	assert.Equal(t, "2\n", out.String())
}

func TestStateRecoversAfterRuntimeError(t *testing.T) {
	vm, _ := newTestVM(t)
	_, err := vm.Interpret("print nope;")
	require.Error(t, err)
	assert.Equal(t, StateError, vm.State())

	runOK(t, vm, "var ok = true;")
	assert.Equal(t, StateReturned, vm.State())
}

func TestExecuteRejectsInvalidChunk(t *testing.T) {
	vm, _ := newTestVM(t)
	chunk := bytecode.NewChunk()
	chunk.Write(0xEE, 1)

	_, err := vm.Execute(chunk)
	assert.ErrorIs(t, err, ErrInvalidBytecode)
}

func TestExecuteRejectsStackUnderflow(t *testing.T) {
	vm, _ := newTestVM(t)
	chunk := bytecode.NewChunk()
	chunk.Emit(bytecode.OpPop, 1)
	chunk.Emit(bytecode.OpReturn, 1)

	_, err := vm.Execute(chunk)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidBytecode)
	assert.Equal(t, StateError, vm.State())
}

func TestExecuteSnapshot(t *testing.T) {
	source := `var drink = "tea"; var n = 0; while (n < 3) n = n + 1; drink + " x" `

	chunk, err := compiler.Compile(source + `+ "3"`)
	require.NoError(t, err)
	data, err := bytecode.MarshalChunk(chunk)
	require.NoError(t, err)
	loaded, err := bytecode.UnmarshalChunk(data)
	require.NoError(t, err)

	direct, _ := newTestVM(t)
	want, err := direct.Execute(chunk)
	require.NoError(t, err)

	restored, _ := newTestVM(t)
	got, err := restored.Execute(loaded)
	require.NoError(t, err)

	require.NotNil(t, want)
	require.NotNil(t, got)
	assert.True(t, value.Equal(*want, *got), "snapshot result %v, want %v", got, want)
}

func TestFreeObjects(t *testing.T) {
	vm, _ := newTestVM(t)
	result, err := vm.Interpret(`var a = "yellow"; var b = a + "stone"; b`)
	require.NoError(t, err)
	require.NotNil(t, result)

	s, err := result.AsStringObject()
	require.NoError(t, err)
	assert.True(t, vm.Heap().Contains(s))
	assert.Positive(t, s.Refs())

	// "yellow", "stone", "a", "b" constants plus the concatenation
	assert.Equal(t, 5, vm.Heap().Len())

	swept := vm.FreeObjects()
	assert.Equal(t, 5, swept)
	assert.Zero(t, vm.Heap().Len())
	assert.Zero(t, s.Refs())
}

func TestVMIDsAreUnique(t *testing.T) {
	a, b := New(), New()
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestTraceDoesNotChangeResult(t *testing.T) {
	var out bytes.Buffer
	vm := New(WithOutput(&out), WithTrace(true))
	result, err := vm.Interpret("var x = 2; x * 21")
	require.NoError(t, err)
	require.NotNil(t, result)
	n, _ := result.AsNumber()
	assert.Equal(t, float32(42), n)
}
