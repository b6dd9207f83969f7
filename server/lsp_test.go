package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

// ---------------------------------------------------------------------------
// LSP text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "print total", protocol.Position{Line: 0, Character: 11}, "total"},
		{"at start", "pri", protocol.Position{Line: 0, Character: 3}, "pri"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first line\nsecond line\nwhi", protocol.Position{Line: 2, Character: 3}, "whi"},
		{"after operator", "var x = count+ite", protocol.Position{Line: 0, Character: 17}, "ite"},
		{"underscore", "assert_", protocol.Position{Line: 0, Character: 7}, "assert_"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"column beyond line", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "hello world", protocol.Position{Line: 0, Character: 3}, "hello"},
		{"at end", "hello world", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"second word", "hello world", protocol.Position{Line: 0, Character: 8}, "world"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first\nbeverage", protocol.Position{Line: 1, Character: 3}, "beverage"},
		{"underscore", "assert_eq(1, 1);", protocol.Position{Line: 0, Character: 3}, "assert_eq"},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"between punctuation", "(;)", protocol.Position{Line: 0, Character: 1}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	p := boolPtr(true)
	if p == nil {
		t.Fatal("boolPtr should not return nil")
	}
	if *p != true {
		t.Errorf("boolPtr(true) = %v, want true", *p)
	}

	p = boolPtr(false)
	if *p != false {
		t.Errorf("boolPtr(false) = %v, want false", *p)
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnoseCleanDocument(t *testing.T) {
	diags := diagnose("var a = 1;\nprint a;\n")
	assert.NotNil(t, diags, "clean documents publish an empty list, not null")
	assert.Empty(t, diags)
}

func TestDiagnoseReportsEachErrorOnItsLine(t *testing.T) {
	text := "print 1 +;\nvar = 3;\nprint 2;\n"

	diags := diagnose(text)
	require.Len(t, diags, 2)

	assert.Equal(t, "Expect expression.", diags[0].Message)
	assert.Equal(t, protocol.UInteger(0), diags[0].Range.Start.Line)
	assert.Equal(t, protocol.UInteger(9), diags[0].Range.Start.Character)
	assert.Equal(t, protocol.UInteger(10), diags[0].Range.End.Character)

	assert.Equal(t, "Expect variable name.", diags[1].Message)
	assert.Equal(t, protocol.UInteger(1), diags[1].Range.Start.Line)
	assert.Equal(t, protocol.UInteger(4), diags[1].Range.Start.Character)

	require.NotNil(t, diags[0].Severity)
	assert.Equal(t, protocol.DiagnosticSeverityError, *diags[0].Severity)
	require.NotNil(t, diags[0].Source)
	assert.Equal(t, lspName, *diags[0].Source)
}

func TestDiagnoseAtEnd(t *testing.T) {
	diags := diagnose("print 1")
	require.Len(t, diags, 1)
	assert.Equal(t, "Expect ';' after value.", diags[0].Message)
	assert.Equal(t, protocol.UInteger(0), diags[0].Range.Start.Line)
	assert.Equal(t, protocol.UInteger(7), diags[0].Range.Start.Character)
}

func TestDiagnoseLexicalError(t *testing.T) {
	diags := diagnose("var a = 1;\nprint \"open;\n")
	require.Len(t, diags, 1)
	assert.Equal(t, "Unterminated string.", diags[0].Message)
	assert.Equal(t, protocol.UInteger(1), diags[0].Range.Start.Line)
	assert.Equal(t, protocol.UInteger(0), diags[0].Range.Start.Character)
}

// ---------------------------------------------------------------------------
// Completion, hover, definition, references
// ---------------------------------------------------------------------------

const sampleDoc = `var beverage = "cafe au lait";
var breakfast = "beignets with " + beverage;
{
  var bread = "toast";
  print bread;
}
print breakfast;
`

func labels(items []protocol.CompletionItem) []string {
	var out []string
	for _, item := range items {
		out = append(out, item.Label)
	}
	return out
}

func TestCompleteKeywordsAndDeclarations(t *testing.T) {
	items := complete(sampleDoc, "b")
	assert.Equal(t, []string{"beverage", "bread", "breakfast"}, labels(items))

	for _, item := range items {
		require.NotNil(t, item.Detail)
		if item.Label == "bread" {
			assert.Equal(t, "local", *item.Detail)
		} else {
			assert.Equal(t, "global", *item.Detail)
		}
	}

	items = complete(sampleDoc, "wh")
	require.Len(t, items, 1)
	assert.Equal(t, "while", items[0].Label)
	require.NotNil(t, items[0].Kind)
	assert.Equal(t, protocol.CompletionItemKindKeyword, *items[0].Kind)

	assert.Equal(t, []string{"and"}, labels(complete("", "an")))
	assert.Empty(t, complete(sampleDoc, "zzz"))
}

func TestHover(t *testing.T) {
	h := hover(sampleDoc, "breakfast")
	require.NotNil(t, h)
	mc, ok := h.Contents.(protocol.MarkupContent)
	require.True(t, ok, "hover contents should be MarkupContent")
	assert.Equal(t, protocol.MarkupKindMarkdown, mc.Kind)
	assert.Contains(t, mc.Value, "global, declared on line 2")

	h = hover(sampleDoc, "print")
	require.NotNil(t, h)
	mc = h.Contents.(protocol.MarkupContent)
	assert.Contains(t, mc.Value, "**print**")

	assert.Nil(t, hover(sampleDoc, "nosuchname"))
}

func TestDefinition(t *testing.T) {
	uri := protocol.DocumentUri("file:///breakfast.ys")

	locations := definition(uri, sampleDoc, "bread")
	require.Len(t, locations, 1)
	assert.Equal(t, uri, locations[0].URI)
	assert.Equal(t, protocol.UInteger(3), locations[0].Range.Start.Line)
	assert.Equal(t, protocol.UInteger(6), locations[0].Range.Start.Character)
	assert.Equal(t, protocol.UInteger(11), locations[0].Range.End.Character)

	assert.Empty(t, definition(uri, sampleDoc, "missing"))
}

func TestReferences(t *testing.T) {
	uri := protocol.DocumentUri("file:///breakfast.ys")

	locations := references(uri, sampleDoc, "beverage", true)
	require.Len(t, locations, 2)
	assert.Equal(t, protocol.UInteger(0), locations[0].Range.Start.Line)
	assert.Equal(t, protocol.UInteger(1), locations[1].Range.Start.Line)

	locations = references(uri, sampleDoc, "beverage", false)
	require.Len(t, locations, 1)
	assert.Equal(t, protocol.UInteger(1), locations[0].Range.Start.Line)
}

func TestDefinitionSkipsMatchesInsideKeywords(t *testing.T) {
	uri := protocol.DocumentUri("file:///short.ys")

	locations := definition(uri, "var a = 1;\nprint a;", "a")
	require.Len(t, locations, 1)
	assert.Equal(t, protocol.UInteger(0), locations[0].Range.Start.Line)
	assert.Equal(t, protocol.UInteger(4), locations[0].Range.Start.Character)
	assert.Equal(t, protocol.UInteger(5), locations[0].Range.End.Character)
}

func TestReferencesReportEveryOccurrenceOnALine(t *testing.T) {
	uri := protocol.DocumentUri("file:///counter.ys")

	locations := references(uri, "var r = 1; r = r + 1;", "r", true)
	require.Len(t, locations, 3)
	for i, want := range []protocol.UInteger{4, 11, 15} {
		assert.Equal(t, protocol.UInteger(0), locations[i].Range.Start.Line)
		assert.Equal(t, want, locations[i].Range.Start.Character)
		assert.Equal(t, want+1, locations[i].Range.End.Character)
	}

	locations = references(uri, "var r = 1; r = r + 1;", "r", false)
	require.Len(t, locations, 2)
	assert.Equal(t, protocol.UInteger(11), locations[0].Range.Start.Character)
}

func TestDiagnoseUsesTokenColumn(t *testing.T) {
	diags := diagnose("print a a;")
	require.Len(t, diags, 1)
	assert.Equal(t, "Expect ';' after value.", diags[0].Message)
	assert.Equal(t, protocol.UInteger(8), diags[0].Range.Start.Character)
	assert.Equal(t, protocol.UInteger(9), diags[0].Range.End.Character)
}

// ---------------------------------------------------------------------------
// LSP document synchronization state
// ---------------------------------------------------------------------------

func TestLSP_DocumentStore(t *testing.T) {
	lsp := &LspServer{docs: make(map[string]string)}
	uri := protocol.DocumentUri("file:///test.ys")

	lsp.setDocument(uri, "print 1;")
	text, ok := lsp.document(uri)
	if !ok {
		t.Error("document should be stored after open")
	}
	if text != "print 1;" {
		t.Errorf("document text = %q, want %q", text, "print 1;")
	}

	lsp.setDocument(uri, "print 2;")
	if text, _ := lsp.document(uri); text != "print 2;" {
		t.Errorf("document text after change = %q, want %q", text, "print 2;")
	}

	lsp.mu.Lock()
	delete(lsp.docs, string(uri))
	lsp.mu.Unlock()

	if _, ok := lsp.document(uri); ok {
		t.Error("document should be removed after close")
	}
}

func TestNewLSP(t *testing.T) {
	lsp := NewLSP()
	if lsp.server == nil {
		t.Fatal("NewLSP did not create a glsp server")
	}
	if lsp.handler.TextDocumentDidOpen == nil || lsp.handler.TextDocumentCompletion == nil {
		t.Error("NewLSP should register document and completion handlers")
	}
}

func TestInitialize(t *testing.T) {
	lsp := NewLSP()

	result, err := lsp.initialize(nil, &protocol.InitializeParams{
		ClientInfo: &struct {
			Name    string  `json:"name"`
			Version *string `json:"version,omitempty"`
		}{Name: "vim"},
	})
	require.NoError(t, err)

	init, ok := result.(protocol.InitializeResult)
	require.True(t, ok, "initialize should return an InitializeResult")
	require.NotNil(t, init.ServerInfo)
	assert.Equal(t, lspName, init.ServerInfo.Name)
	assert.Equal(t, true, init.Capabilities.HoverProvider)
	assert.Equal(t, true, init.Capabilities.ReferencesProvider)
	assert.NotNil(t, init.Capabilities.CompletionProvider)
}

func TestClientName(t *testing.T) {
	assert.Equal(t, "unknown", clientName(nil))
	assert.Equal(t, "unknown", clientName(&protocol.InitializeParams{}))
	assert.Equal(t, "vscode", clientName(&protocol.InitializeParams{
		ClientInfo: &struct {
			Name    string  `json:"name"`
			Version *string `json:"version,omitempty"`
		}{Name: "vscode"},
	}))
}
