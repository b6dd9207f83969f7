package compiler

import "github.com/chazu/yellowstone/pkg/bytecode"

// maxLocals is the number of local slots addressable by a u8 operand.
const maxLocals = 256

// Local is a block-scoped variable living in a stack slot. Its slot is its
// index in the compiler's local list.
type Local struct {
	Name        string
	Depth       int
	Initialized bool
}

func (c *Compiler) beginScope() {
	c.depth++
}

// endScope closes the innermost block, popping its locals off the stack in
// reverse declaration order.
func (c *Compiler) endScope() {
	c.depth--

	for len(c.locals) > 0 && c.locals[len(c.locals)-1].Depth > c.depth {
		c.emitOp(bytecode.OpPop)
		c.locals = c.locals[:len(c.locals)-1]
	}
}

// declareLocal reserves a slot for name in the current block. A name already
// declared in the same block keeps its slot and is reported as redeclared;
// the caller stores the new initializer into it.
func (c *Compiler) declareLocal(name string) (slot int, redeclared bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		local := &c.locals[i]
		if local.Depth < c.depth {
			break
		}
		if local.Name == name {
			local.Initialized = false
			return i, true
		}
	}

	if len(c.locals) == maxLocals {
		c.error("Too many local variables in function.")
		return 0, false
	}

	c.locals = append(c.locals, Local{Name: name, Depth: c.depth})
	return len(c.locals) - 1, false
}

// resolveLocal finds the innermost local called name.
func (c *Compiler) resolveLocal(name string) (int, bool) {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].Name == name {
			if !c.locals[i].Initialized {
				c.error("Can't read local variable in its own initializer.")
			}
			return i, true
		}
	}
	return 0, false
}

func (c *Compiler) markInitialized(slot int) {
	c.locals[slot].Initialized = true
}
