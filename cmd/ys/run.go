package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"

	"github.com/chazu/yellowstone/compiler"
	"github.com/chazu/yellowstone/pkg/bytecode"
	"github.com/chazu/yellowstone/vm"
)

// SnapshotExt marks files holding a compiled chunk rather than source.
const SnapshotExt = ".ysc"

// runPath compiles (or decodes) the file at path and then runs, emits or
// disassembles it depending on opts. Returns the process exit code.
func runPath(path string, opts options, stdout, stderr io.Writer) int {
	log := commonlog.GetLogger("yellowstone.cli")

	chunk, code := loadChunk(path, stderr)
	if chunk == nil {
		return code
	}
	log.Infof("%s: %s of bytecode, %s constants", path,
		humanize.Bytes(uint64(chunk.CodeLen())), humanize.Comma(int64(chunk.ConstantCount())))

	if opts.emit != "" {
		return emitChunk(chunk, opts.emit, stderr)
	}

	name := filepath.Base(path)
	if opts.dis {
		fmt.Fprint(stdout, chunk.Disassemble(name))
		return exitOK
	}
	if opts.disassemble {
		fmt.Fprint(stderr, chunk.Disassemble(name))
	}

	machine := vm.New(
		vm.WithOutput(stdout),
		vm.WithTrace(opts.trace),
		vm.WithStackLimit(opts.stackLimit),
	)
	defer func() {
		n := machine.FreeObjects()
		log.Infof("freed %s objects", humanize.Comma(int64(n)))
	}()

	if _, err := machine.Execute(chunk); err != nil {
		fmt.Fprintln(stderr, err)
		return exitSoftware
	}
	return exitOK
}

// loadChunk reads source or a snapshot. On failure the chunk is nil and
// the exit code says why.
func loadChunk(path string, stderr io.Writer) (*bytecode.Chunk, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, exitIOErr
	}

	if strings.EqualFold(filepath.Ext(path), SnapshotExt) {
		chunk, err := bytecode.UnmarshalChunk(data)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %s: %v\n", path, err)
			return nil, exitDataErr
		}
		return chunk, exitOK
	}

	chunk, err := compiler.Compile(string(data))
	if err != nil {
		var compileErr *compiler.CompileError
		if errors.As(err, &compileErr) {
			fmt.Fprintln(stderr, compileErr)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return nil, exitDataErr
	}
	return chunk, exitOK
}

func emitChunk(chunk *bytecode.Chunk, out string, stderr io.Writer) int {
	data, err := bytecode.MarshalChunk(chunk)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitIOErr
	}
	commonlog.GetLogger("yellowstone.cli").Infof("wrote %s (%s)", out, humanize.Bytes(uint64(len(data))))
	return exitOK
}
