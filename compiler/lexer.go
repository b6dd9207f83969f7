package compiler

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for Yellowstone source
// ---------------------------------------------------------------------------

// Lexer tokenizes Yellowstone source code on demand. It only moves
// forward; once it has returned TokenEOF every later call returns EOF again.
type Lexer struct {
	input   string
	start   int  // offset of the token being scanned
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current character
	line    int  // current line (1-based)
	lineAt  int  // offset where the current line begins
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
	}
	l.readChar()
	return l
}

// Tokens scans input to the end and returns every token including the
// trailing EOF.
func Tokens(input string) []Token {
	l := NewLexer(input)
	var toks []Token
	for {
		tok := l.NextToken()
		toks = append(toks, tok)
		if tok.Type == TokenEOF {
			return toks
		}
	}
}

// readChar reads the next character.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.lineAt = l.readPos
	}
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
		l.pos = len(l.input)
		return
	}
	l.ch = l.input[l.readPos]
	l.pos = l.readPos
	l.readPos++
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	l.start = l.pos
	column := l.start - l.lineAt

	tok := l.scanToken(l.line)
	tok.Column = column
	return tok
}

func (l *Lexer) scanToken(line int) Token {
	if l.atEOF() {
		return Token{Type: TokenEOF, Literal: "", Line: line}
	}

	switch ch := l.ch; {
	case ch == '"':
		return l.readString(line)

	case isDigit(ch):
		return l.readNumber(line)

	case isAlpha(ch):
		return l.readIdentifier(line)

	default:
		l.readChar()
		switch ch {
		case '(':
			return l.token(TokenLeftParen, line)
		case ')':
			return l.token(TokenRightParen, line)
		case '{':
			return l.token(TokenLeftBrace, line)
		case '}':
			return l.token(TokenRightBrace, line)
		case ',':
			return l.token(TokenComma, line)
		case '.':
			return l.token(TokenDot, line)
		case '-':
			return l.token(TokenMinus, line)
		case '+':
			return l.token(TokenPlus, line)
		case ';':
			return l.token(TokenSemicolon, line)
		case '/':
			return l.token(TokenSlash, line)
		case '*':
			return l.token(TokenStar, line)
		case '!':
			return l.twoChar('=', TokenBangEqual, TokenBang, line)
		case '=':
			return l.twoChar('=', TokenEqualEqual, TokenEqual, line)
		case '<':
			return l.twoChar('=', TokenLessEqual, TokenLess, line)
		case '>':
			return l.twoChar('=', TokenGreaterEqual, TokenGreater, line)
		}
		return Token{Type: TokenError, Literal: "Unexpected character.", Line: line}
	}
}

// token builds a token spanning from start to the current position.
func (l *Lexer) token(typ TokenType, line int) Token {
	return Token{Type: typ, Literal: l.input[l.start:l.pos], Line: line}
}

// twoChar matches an optional second character.
func (l *Lexer) twoChar(second byte, matched, single TokenType, line int) Token {
	if !l.atEOF() && l.ch == second {
		l.readChar()
		return l.token(matched, line)
	}
	return l.token(single, line)
}

// skipWhitespaceAndComments skips whitespace and // line comments.
func (l *Lexer) skipWhitespaceAndComments() {
	for !l.atEOF() {
		switch l.ch {
		case ' ', '\t', '\r', '\n':
			l.readChar()
		case '/':
			if l.peekChar() != '/' {
				return
			}
			for !l.atEOF() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

// readString reads a string literal. Strings may span lines.
func (l *Lexer) readString(line int) Token {
	l.readChar() // consume opening "

	for !l.atEOF() && l.ch != '"' {
		l.readChar()
	}

	if l.atEOF() {
		return Token{Type: TokenError, Literal: "Unterminated string.", Line: line}
	}

	l.readChar() // consume closing "
	return l.token(TokenString, line)
}

// readNumber reads an integer or decimal literal. A trailing '.' that is
// not followed by a digit is left for the next token.
func (l *Lexer) readNumber(line int) Token {
	for !l.atEOF() && isDigit(l.ch) {
		l.readChar()
	}

	if !l.atEOF() && l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume .
		for !l.atEOF() && isDigit(l.ch) {
			l.readChar()
		}
	}

	return l.token(TokenNumber, line)
}

// readIdentifier reads an identifier and classifies reserved words.
func (l *Lexer) readIdentifier(line int) Token {
	for !l.atEOF() && (isAlpha(l.ch) || isDigit(l.ch)) {
		l.readChar()
	}

	tok := l.token(TokenIdentifier, line)
	if typ, ok := reservedWords[tok.Literal]; ok {
		tok.Type = typ
	}
	return tok
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}
