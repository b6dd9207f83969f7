// Yellowstone CLI - the main entry point for running Yellowstone programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/yellowstone/manifest"
	"github.com/chazu/yellowstone/server"
)

// Exit codes follow sysexits.h.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 64
	exitDataErr  = 65 // compile error
	exitSoftware = 70 // runtime error
	exitIOErr    = 74
)

// countFlag is a boolean flag that counts its repetitions (-v -v).
type countFlag int

func (c *countFlag) String() string { return strconv.Itoa(int(*c)) }

func (c *countFlag) Set(s string) error {
	if s == "true" {
		*c++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("expected a count")
	}
	*c = countFlag(n)
	return nil
}

func (c *countFlag) IsBoolFlag() bool { return true }

// options is the effective configuration after merging the manifest,
// the environment and the command line.
type options struct {
	verbosity   int
	trace       bool
	disassemble bool
	stackLimit  int
	history     bool
	historyPath string
	prompt      string
	emit        string
	dis         bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("ys", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var verbosity countFlag
	flags.Var(&verbosity, "v", "Verbose output (repeat for more)")
	trace := flags.Bool("trace", false, "Log every executed instruction")
	dis := flags.Bool("dis", false, "Print the disassembly instead of running")
	emit := flags.String("emit", "", "Compile to a bytecode snapshot at this path instead of running")
	serve := flags.Bool("serve", false, "Start the language server on stdio")
	noHistory := flags.Bool("no-history", false, "Do not record REPL history")
	configDir := flags.String("config", "", "Directory to search for yellowstone.toml (default: working directory)")
	stackLimit := flags.Int("stack-limit", 0, "Operand stack limit (default: from config, else 1024)")

	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: ys [options] [script.ys | chunk.ysc | project-dir]\n\n")
		fmt.Fprintf(stderr, "Runs a Yellowstone script, or starts a REPL when no path is given.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		flags.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  ys                          # Start REPL\n")
		fmt.Fprintf(stderr, "  ys hello.ys                 # Run a script\n")
		fmt.Fprintf(stderr, "  ys -emit hello.ysc hello.ys  # Compile to a snapshot\n")
		fmt.Fprintf(stderr, "  ys hello.ysc                # Run a snapshot\n")
		fmt.Fprintf(stderr, "  ys -dis hello.ys            # Show bytecode\n")
		fmt.Fprintf(stderr, "  ys .                        # Run the project's [run] entry\n")
		fmt.Fprintf(stderr, "  ys -serve                   # Language server on stdio\n")
	}
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if flags.NArg() > 1 {
		flags.Usage()
		return exitUsage
	}

	// A project directory argument doubles as the config directory
	path := flags.Arg(0)
	projectDir := false
	if info, err := os.Stat(path); path != "" && err == nil && info.IsDir() {
		projectDir = true
	}

	dir := *configDir
	if dir == "" {
		dir = "."
		if projectDir {
			dir = path
		}
	}
	m, err := manifest.Resolve(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}

	opts := options{
		verbosity:   int(verbosity),
		trace:       *trace || m.Run.Trace,
		disassemble: m.Run.Disassemble,
		stackLimit:  m.Run.StackLimit,
		history:     m.REPL.History && !*noHistory,
		prompt:      m.REPL.Prompt,
		emit:        *emit,
		dis:         *dis,
	}
	if *stackLimit > 0 {
		opts.stackLimit = *stackLimit
	}
	if opts.history {
		if opts.historyPath, err = m.HistoryPath(); err != nil {
			fmt.Fprintf(stderr, "Warning: %v\n", err)
			opts.history = false
		}
	}

	// Instruction tracing is logged at debug level
	logVerbosity := opts.verbosity
	if opts.trace {
		logVerbosity = max(logVerbosity, 3)
	}
	commonlog.Configure(logVerbosity, nil)

	if *serve {
		if err := server.NewLSP().Run(); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return exitFailure
		}
		return exitOK
	}

	if flags.NArg() == 0 {
		if opts.emit != "" || opts.dis {
			fmt.Fprintf(stderr, "Error: -emit and -dis need a script path\n")
			return exitUsage
		}
		return runREPL(opts, stdin, stdout, stderr)
	}

	if projectDir {
		path = m.EntryPath()
	}
	return runPath(path, opts, stdout, stderr)
}
