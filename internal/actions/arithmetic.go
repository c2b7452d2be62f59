package actions

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/nugget/dazzy/internal/intent"
)

// ErrDivideByZero is returned by [Evaluate] for a zero divisor.
var ErrDivideByZero = errors.New("division by zero")

// Arithmetic replies.
const (
	DivideByZeroReply = "I can't divide by zero."
	CannotParseReply  = "I couldn't work out that calculation. Try something like 5 times 3."
)

const number = `(-?\d+(?:\.\d+)?)`

var (
	// tightExpr is a whole utterance of exactly <number> <op> <number>.
	tightExpr = regexp.MustCompile(`^` + number + `\s*([-+*/x×÷])\s*` + number + `$`)
	// looseExpr finds the first such triple inside a longer phrase.
	looseExpr = regexp.MustCompile(number + `\s*([-+*/×÷])\s*` + number)
	numbers   = regexp.MustCompile(number)

	operatorWords = strings.NewReplacer(
		" multiplied by ", " * ",
		" divided by ", " / ",
		" plus ", " + ",
		" minus ", " - ",
		" times ", " * ",
		" over ", " / ",
		" x ", " * ",
	)
)

// Expression is a parsed binary operation.
type Expression struct {
	Left, Right float64
	Op          byte
}

func (e Expression) String() string {
	return fmt.Sprintf("%s %c %s", FormatNumber(e.Left), e.Op, FormatNumber(e.Right))
}

// ParseTight parses text only if it is exactly one binary expression,
// with no other tokens.
func ParseTight(text string) (Expression, bool) {
	m := tightExpr.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return Expression{}, false
	}
	return build(m[1], m[2], m[3])
}

// ParsePhrase finds a binary expression in text, accepting operator
// words ("5 times 3", "what is 10 divided by 4").
func ParsePhrase(text string) (Expression, bool) {
	if e, ok := ParseTight(text); ok {
		return e, true
	}
	spaced := " " + strings.ToLower(text) + " "
	m := looseExpr.FindStringSubmatch(operatorWords.Replace(spaced))
	if m == nil {
		return Expression{}, false
	}
	return build(m[1], m[2], m[3])
}

func build(left, op, right string) (Expression, bool) {
	l, err1 := strconv.ParseFloat(left, 64)
	r, err2 := strconv.ParseFloat(right, 64)
	if err1 != nil || err2 != nil {
		return Expression{}, false
	}
	return Expression{Left: l, Right: r, Op: canonicalOp(op)}, true
}

func canonicalOp(op string) byte {
	switch op {
	case "x", "×":
		return '*'
	case "÷":
		return '/'
	}
	return op[0]
}

// Evaluate computes e.
func Evaluate(e Expression) (float64, error) {
	switch e.Op {
	case '+':
		return e.Left + e.Right, nil
	case '-':
		return e.Left - e.Right, nil
	case '*':
		return e.Left * e.Right, nil
	case '/':
		if e.Right == 0 {
			return 0, ErrDivideByZero
		}
		return e.Left / e.Right, nil
	}
	return 0, fmt.Errorf("%w: operator %q", intent.ErrMalformed, e.Op)
}

// FormatNumber renders v as an integer when it is whole and otherwise
// rounds to four decimal places, dropping trailing zeros.
func FormatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}

// Answer evaluates e and phrases the reply. Division by zero is a
// handled answer, not a failure.
func Answer(e Expression) intent.Result {
	v, err := Evaluate(e)
	switch {
	case errors.Is(err, ErrDivideByZero):
		return intent.Result{Reply: DivideByZeroReply, Handled: true, Err: intent.KindMalformed}
	case err != nil:
		return intent.Malformed(CannotParseReply)
	}
	return intent.Reply(fmt.Sprintf("%s = %s", e, FormatNumber(v)))
}

// Arithmetic evaluates calculations. With Op zero it parses a full
// expression from the argument ("calculate 5 * 3"). With Op set it is
// bound to an operator trigger such as " times " and expects the
// argument to hold exactly the two operands left after the trigger was
// removed.
type Arithmetic struct {
	Op byte
}

// Handle implements [intent.Handler].
func (a Arithmetic) Handle(_ context.Context, arg string) (intent.Result, error) {
	if a.Op == 0 {
		e, ok := ParsePhrase(arg)
		if !ok {
			return intent.Malformed(CannotParseReply), nil
		}
		return Answer(e), nil
	}

	found := numbers.FindAllString(arg, -1)
	if len(found) != 2 {
		return intent.Malformed(CannotParseReply), nil
	}
	e, ok := build(found[0], string(a.Op), found[1])
	if !ok {
		return intent.Malformed(CannotParseReply), nil
	}
	return Answer(e), nil
}
