package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/tliron/commonlog"

	"github.com/chazu/yellowstone/compiler"
	"github.com/chazu/yellowstone/history"
	"github.com/chazu/yellowstone/vm"
)

const historyShown = 20

// repl holds one interactive session. Globals persist across lines.
type repl struct {
	vm     *vm.VM
	out    io.Writer
	errOut io.Writer

	interactive bool // prompts and banner
	color       bool // colored errors
	prompt      string
	disassemble bool

	store   *history.Store
	session string
}

func isTerminal(f any) bool {
	file, ok := f.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(file.Fd()) || isatty.IsCygwinTerminal(file.Fd())
}

func runREPL(opts options, stdin io.Reader, stdout, stderr io.Writer) int {
	r := &repl{
		vm: vm.New(
			vm.WithOutput(stdout),
			vm.WithTrace(opts.trace),
			vm.WithStackLimit(opts.stackLimit),
		),
		out:         stdout,
		errOut:      stderr,
		interactive: isTerminal(stdin),
		color:       isTerminal(stderr),
		prompt:      opts.prompt,
		disassemble: opts.disassemble,
	}

	if opts.history {
		if err := r.openHistory(opts.historyPath); err != nil {
			fmt.Fprintf(stderr, "Warning: history disabled: %v\n", err)
		}
	}
	defer r.close()

	r.loop(stdin)
	return exitOK
}

func (r *repl) openHistory(path string) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	session, err := store.NewSession()
	if err != nil {
		store.Close()
		return err
	}
	r.store = store
	r.session = session
	return nil
}

func (r *repl) close() {
	n := r.vm.FreeObjects()
	commonlog.GetLogger("yellowstone.cli").Infof("session %s: freed %s objects", r.vm.ID(), humanize.Comma(int64(n)))
	if r.store != nil {
		r.store.Close()
	}
}

func (r *repl) loop(stdin io.Reader) {
	if r.interactive {
		fmt.Fprintln(r.out, "[yellowstone repl]")
		fmt.Fprintln(r.out, "(type `exit` or `quit` to stop session, `:help` for commands)")
	}

	scanner := bufio.NewScanner(stdin)
	lineBuffer := strings.Builder{}

	for {
		// Show prompt
		if r.interactive {
			if lineBuffer.Len() == 0 {
				fmt.Fprint(r.out, r.prompt)
			} else {
				fmt.Fprint(r.out, ".. ")
			}
		}

		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if lineBuffer.Len() == 0 {
			// Handle exit
			if trimmed == "exit" || trimmed == "quit" || trimmed == ":quit" {
				break
			}
			// Handle REPL commands (start with ':')
			if strings.HasPrefix(trimmed, ":") {
				r.command(trimmed)
				continue
			}
			if trimmed == "" {
				continue
			}
		}

		// Accumulate lines until braces balance
		if lineBuffer.Len() > 0 {
			lineBuffer.WriteString("\n")
		}
		lineBuffer.WriteString(line)
		if openBraces(lineBuffer.String()) > 0 {
			continue
		}

		input := lineBuffer.String()
		lineBuffer.Reset()
		r.eval(input)
	}

	if r.interactive {
		fmt.Fprintln(r.out)
	}
}

// openBraces counts unclosed '{' in source, ignoring braces in strings and
// comments.
func openBraces(source string) int {
	depth := 0
	for _, tok := range compiler.Tokens(source) {
		switch tok.Type {
		case compiler.TokenLeftBrace:
			depth++
		case compiler.TokenRightBrace:
			depth--
		}
	}
	return depth
}

// eval compiles and executes one REPL entry, printing its result.
func (r *repl) eval(input string) {
	chunk, err := compiler.Compile(input)
	if err != nil {
		r.printError(err)
		r.record(input, err.Error(), true)
		return
	}

	if r.disassemble {
		fmt.Fprint(r.out, chunk.Disassemble("repl"))
	}

	result, err := r.vm.Execute(chunk)
	if err != nil {
		r.printError(err)
		r.record(input, err.Error(), true)
		return
	}

	var shown string
	if result != nil {
		shown = result.String()
		fmt.Fprintln(r.out, shown)
	}
	r.record(input, shown, false)
}

func (r *repl) printError(err error) {
	msg := err.Error()
	if r.color {
		msg = termenv.String(msg).Foreground(termenv.ANSIRed).String()
	}
	fmt.Fprintln(r.errOut, msg)
}

func (r *repl) record(source, result string, failed bool) {
	if r.store == nil {
		return
	}
	if _, err := r.store.Append(r.session, source, result, failed); err != nil {
		commonlog.GetLogger("yellowstone.cli").Warningf("history: %v", err)
	}
}

// command handles REPL meta-commands
func (r *repl) command(cmd string) {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(r.out, "REPL Commands:")
		fmt.Fprintln(r.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(r.out, "  :globals          List global variables")
		fmt.Fprintln(r.out, "  :history          Show recent input")
		fmt.Fprintln(r.out, "  :dis              Toggle bytecode disassembly")
		fmt.Fprintln(r.out, "  :quit, exit, quit Exit REPL")
	case ":globals":
		globals := r.vm.Globals()
		names := globals.Keys()
		sort.Strings(names)
		for _, name := range names {
			v, _ := globals.Get(name)
			fmt.Fprintf(r.out, "%s = %s\n", name, v)
		}
	case ":history":
		r.showHistory()
	case ":dis":
		r.disassemble = !r.disassemble
		state := "off"
		if r.disassemble {
			state = "on"
		}
		fmt.Fprintf(r.out, "disassembly %s\n", state)
	default:
		fmt.Fprintf(r.out, "Unknown command: %s (type :help for commands)\n", cmd)
	}
}

func (r *repl) showHistory() {
	if r.store == nil {
		fmt.Fprintln(r.out, "history is disabled")
		return
	}
	entries, err := r.store.Recent(historyShown)
	if err != nil {
		r.printError(err)
		return
	}
	for _, e := range entries {
		marker := " "
		if e.Failed {
			marker = "!"
		}
		fmt.Fprintf(r.out, "%s %-12s %s\n", marker, humanize.Time(e.CreatedAt), strings.ReplaceAll(e.Source, "\n", " "))
	}
}
