// Package server implements the Yellowstone language server. Documents are
// compiled on every change and the compile diagnostics are published back
// to the editor; completion, hover, definition and references work from
// the token stream.
package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/yellowstone/compiler"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "yellowstone-lsp"

// LspServer bridges LSP editor features to the Yellowstone compiler.
type LspServer struct {
	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server.
func NewLSP() *LspServer {
	s := &LspServer{
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.GetLogger("yellowstone.server").Info("initializing", "client", clientName(params))

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

// clientName identifies the editor in logs.
func clientName(params *protocol.InitializeParams) string {
	if params == nil || params.ClientInfo == nil {
		return "unknown"
	}
	return params.ClientInfo.Name
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.mu.Lock()
	s.docs = make(map[string]string)
	s.mu.Unlock()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.setDocument(uri, text)
	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.setDocument(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) setDocument(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	locations := definition(uri, text, word)
	if len(locations) == 0 {
		return nil, nil
	}
	return locations, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return references(uri, text, word, params.Context.IncludeDeclaration), nil
}

// --- Document analysis ---

// declaration is a `var` statement found in a document.
type declaration struct {
	Name   string
	Line   int // 1-based
	Column int
	Global bool
}

// declarations scans the document for variable declarations. A declaration
// outside any braces defines a global.
func declarations(text string) []declaration {
	tokens := compiler.Tokens(text)

	var decls []declaration
	depth := 0
	for i, tok := range tokens {
		switch tok.Type {
		case compiler.TokenLeftBrace:
			depth++
		case compiler.TokenRightBrace:
			if depth > 0 {
				depth--
			}
		case compiler.TokenVar:
			if i+1 < len(tokens) && tokens[i+1].Type == compiler.TokenIdentifier {
				decls = append(decls, declaration{
					Name:   tokens[i+1].Literal,
					Line:   tokens[i+1].Line,
					Column: tokens[i+1].Column,
					Global: depth == 0,
				})
			}
		}
	}
	return decls
}

var keywordDocs = map[string]string{
	"and":       "Logical and. Evaluates the right operand only when the left is truthy.",
	"assert_eq": "`assert_eq(expected, actual);` fails the script unless both values have the same type and are equal.",
	"class":     "Reserved.",
	"else":      "Alternative branch of an `if` statement.",
	"false":     "Boolean false.",
	"for":       "`for (init; condition; increment) body` loop.",
	"fun":       "Reserved.",
	"if":        "`if (condition) statement else statement`",
	"nil":       "The absence of a value.",
	"or":        "Logical or. Evaluates the right operand only when the left is falsey.",
	"print":     "`print expression;` writes the value followed by a newline.",
	"return":    "Ends the script, optionally producing a result value.",
	"super":     "Reserved.",
	"this":      "Reserved.",
	"true":      "Boolean true.",
	"var":       "`var name = expression;` declares a variable.",
	"while":     "`while (condition) statement` loop.",
}

func complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	// Keywords
	for _, kw := range compiler.Keywords() {
		if strings.HasPrefix(kw, lowerPrefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "keyword"
			kwCopy := kw
			items = append(items, protocol.CompletionItem{
				Label:      kw,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &kwCopy,
			})
		}
	}

	// Variables declared in the document
	seen := make(map[string]bool)
	var names []declaration
	for _, d := range declarations(text) {
		if seen[d.Name] || !strings.HasPrefix(strings.ToLower(d.Name), lowerPrefix) {
			continue
		}
		seen[d.Name] = true
		names = append(names, d)
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Name < names[j].Name })

	for _, d := range names {
		kind := protocol.CompletionItemKindVariable
		detail := "local"
		if d.Global {
			detail = "global"
		}
		name := d.Name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func hover(text, word string) *protocol.Hover {
	var b strings.Builder

	if doc, ok := keywordDocs[word]; ok {
		fmt.Fprintf(&b, "**%s**\n\n%s", word, doc)
	} else {
		var found []declaration
		for _, d := range declarations(text) {
			if d.Name == word {
				found = append(found, d)
			}
		}
		if len(found) == 0 {
			return nil
		}

		fmt.Fprintf(&b, "**%s**\n\n", word)
		for _, d := range found {
			scope := "local"
			if d.Global {
				scope = "global"
			}
			fmt.Fprintf(&b, "- %s, declared on line %d\n", scope, d.Line)
		}
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func definition(uri protocol.DocumentUri, text, word string) []protocol.Location {
	lines := strings.Split(text, "\n")

	var locations []protocol.Location
	for _, d := range declarations(text) {
		if d.Name == word {
			locations = append(locations, protocol.Location{
				URI:   uri,
				Range: tokenRange(lines, d.Line, d.Column, len(word)),
			})
		}
	}
	return locations
}

func references(uri protocol.DocumentUri, text, word string, includeDeclaration bool) []protocol.Location {
	lines := strings.Split(text, "\n")
	tokens := compiler.Tokens(text)

	var locations []protocol.Location
	for i, tok := range tokens {
		if tok.Type != compiler.TokenIdentifier || tok.Literal != word {
			continue
		}
		if !includeDeclaration && i > 0 && tokens[i-1].Type == compiler.TokenVar {
			continue
		}
		locations = append(locations, protocol.Location{
			URI:   uri,
			Range: tokenRange(lines, tok.Line, tok.Column, len(tok.Literal)),
		})
	}
	return locations
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := diagnose(text)
	commonlog.GetLogger("yellowstone.server").Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose compiles text and converts each compile diagnostic into an LSP
// diagnostic on its source line.
func diagnose(text string) []protocol.Diagnostic {
	diagnostics := []protocol.Diagnostic{}

	_, err := compiler.Compile(text)
	if err == nil {
		return diagnostics
	}

	var compileErr *compiler.CompileError
	if !errors.As(err, &compileErr) {
		return diagnostics
	}

	lines := strings.Split(text, "\n")
	for _, d := range compileErr.Diagnostics {
		severity := protocol.DiagnosticSeverityError
		source := lspName
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    diagnosticRange(lines, d),
			Severity: &severity,
			Source:   &source,
			Message:  d.Message,
		})
	}
	return diagnostics
}

// diagnosticRange narrows the range to the offending token when the
// diagnostic names one, else covers the whole line.
func diagnosticRange(lines []string, d compiler.Diagnostic) protocol.Range {
	if lexeme, ok := strings.CutPrefix(d.Where, " at '"); ok {
		return tokenRange(lines, d.Line, d.Column, len(strings.TrimSuffix(lexeme, "'")))
	}
	if d.Where == " at end" {
		line := clampLine(lines, d.Line)
		end := protocol.UInteger(len(lines[line]))
		return protocol.Range{
			Start: protocol.Position{Line: protocol.UInteger(line), Character: end},
			End:   protocol.Position{Line: protocol.UInteger(line), Character: end},
		}
	}
	return tokenRange(lines, d.Line, 0, len(lines[clampLine(lines, d.Line)]))
}

// tokenRange covers length bytes from column on the given 1-based line,
// cut off at the end of the line for tokens that span lines.
func tokenRange(lines []string, line, column, length int) protocol.Range {
	idx := clampLine(lines, line)
	text := lines[idx]

	start := min(column, len(text))
	end := min(start+length, len(text))
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(idx), Character: protocol.UInteger(start)},
		End:   protocol.Position{Line: protocol.UInteger(idx), Character: protocol.UInteger(end)},
	}
}

// clampLine converts a 1-based line to an index into lines.
func clampLine(lines []string, line int) int {
	idx := line - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(lines) {
		idx = len(lines) - 1
	}
	return idx
}

// --- Text extraction helpers ---

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
