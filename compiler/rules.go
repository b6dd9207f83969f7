package compiler

// precedence orders binding strength from loosest to tightest.
type precedence int

const (
	precNone       precedence = iota
	precAssignment            // =
	precOr                    // or
	precAnd                   // and
	precEquality              // == !=
	precComparison            // < > <= >=
	precTerm                  // + -
	precFactor                // * /
	precUnary                 // ! -
	precCall                  // . ()
	precPrimary
)

type parseFn func(c *Compiler, canAssign bool)

// parseRule describes how a token behaves at the start of an expression
// (prefix) and between two operands (infix).
type parseRule struct {
	prefix     parseFn
	infix      parseFn
	precedence precedence
}

// rules is indexed by TokenType. Filled in init because the handlers refer
// back to the table.
var rules [tokenTypeCount]parseRule

func init() {
	rules = [tokenTypeCount]parseRule{
		TokenLeftParen:    {(*Compiler).grouping, nil, precNone},
		TokenMinus:        {(*Compiler).unary, (*Compiler).binary, precTerm},
		TokenPlus:         {nil, (*Compiler).binary, precTerm},
		TokenSlash:        {nil, (*Compiler).binary, precFactor},
		TokenStar:         {nil, (*Compiler).binary, precFactor},
		TokenBang:         {(*Compiler).unary, nil, precNone},
		TokenBangEqual:    {nil, (*Compiler).binary, precEquality},
		TokenEqualEqual:   {nil, (*Compiler).binary, precEquality},
		TokenGreater:      {nil, (*Compiler).binary, precComparison},
		TokenGreaterEqual: {nil, (*Compiler).binary, precComparison},
		TokenLess:         {nil, (*Compiler).binary, precComparison},
		TokenLessEqual:    {nil, (*Compiler).binary, precComparison},
		TokenIdentifier:   {(*Compiler).variable, nil, precNone},
		TokenString:       {(*Compiler).str, nil, precNone},
		TokenNumber:       {(*Compiler).number, nil, precNone},
		TokenAnd:          {nil, (*Compiler).and, precAnd},
		TokenOr:           {nil, (*Compiler).or, precOr},
		TokenFalse:        {(*Compiler).literal, nil, precNone},
		TokenNil:          {(*Compiler).literal, nil, precNone},
		TokenTrue:         {(*Compiler).literal, nil, precNone},
		TokenThis:         {(*Compiler).unsupported, nil, precNone},
		TokenSuper:        {(*Compiler).unsupported, nil, precNone},
	}
}

func getRule(t TokenType) *parseRule {
	return &rules[t]
}
