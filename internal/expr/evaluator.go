// Package expr is the contract between the simulation and the stat
// expression language. Combat and AI build a Context from actor state and
// ask an Evaluator for a number or a boolean.
package expr

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/sasha-s/go-deadlock"
)

// Context is the variable environment visible to an expression.
type Context map[string]any

// With returns a copy of c extended with key=value.
func (c Context) With(key string, value any) Context {
	out := make(Context, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	out[key] = value
	return out
}

type Evaluator interface {
	EvaluateNumber(expression string, ctx Context) (float64, error)
	EvaluateBoolean(expression string, ctx Context) (bool, error)
}

var (
	ErrEmpty     = errors.New("expr: empty expression")
	ErrNotNumber = errors.New("expr: result is not a number")
	ErrNotBool   = errors.New("expr: result is not a boolean")
)

// Compiled evaluates expressions with the expr-lang virtual machine. Programs
// are compiled once per distinct source and cached.
type Compiled struct {
	mu       deadlock.RWMutex
	programs map[string]*vm.Program
}

func NewCompiled() *Compiled {
	return &Compiled{programs: make(map[string]*vm.Program)}
}

func (c *Compiled) program(expression string) (*vm.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}
	program, err := expr.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	c.mu.Lock()
	if c.programs == nil {
		c.programs = make(map[string]*vm.Program)
	}
	c.programs[expression] = program
	c.mu.Unlock()
	return program, nil
}

func (c *Compiled) run(expression string, ctx Context) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, ErrEmpty
	}
	program, err := c.program(expression)
	if err != nil {
		return nil, err
	}
	env := map[string]any(ctx)
	if env == nil {
		env = map[string]any{}
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("run %q: %w", expression, err)
	}
	return out, nil
}

func (c *Compiled) EvaluateNumber(expression string, ctx Context) (float64, error) {
	out, err := c.run(expression, ctx)
	if err != nil {
		return 0, err
	}
	return ToNumber(out)
}

func (c *Compiled) EvaluateBoolean(expression string, ctx Context) (bool, error) {
	out, err := c.run(expression, ctx)
	if err != nil {
		return false, err
	}
	value, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %T", ErrNotBool, out)
	}
	return value, nil
}

const (
	KindCompiled = "compiled"
	KindLiteral  = "literal"
)

// ValidKind reports whether kind names a known evaluator.
func ValidKind(kind string) bool {
	return kind == KindCompiled || kind == KindLiteral
}

// New returns the evaluator named by kind. An empty kind selects Compiled.
func New(kind string) (Evaluator, error) {
	switch kind {
	case "", KindCompiled:
		return NewCompiled(), nil
	case KindLiteral:
		return Literal{}, nil
	default:
		return nil, fmt.Errorf("expr: unknown evaluator %q", kind)
	}
}

// Literal understands only constants and bare variable names. Deployments
// that do not want definitions to run arbitrary formulas select it with the
// "literal" kind.
type Literal struct{}

func (Literal) resolve(expression string, ctx Context) (any, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, ErrEmpty
	}
	name := strings.TrimPrefix(expression, "$")
	if value, ok := ctx[name]; ok {
		return value, nil
	}
	if b, err := strconv.ParseBool(expression); err == nil {
		return b, nil
	}
	if f, err := strconv.ParseFloat(expression, 64); err == nil {
		return f, nil
	}
	return nil, fmt.Errorf("expr: unknown variable or literal %q", expression)
}

func (l Literal) EvaluateNumber(expression string, ctx Context) (float64, error) {
	value, err := l.resolve(expression, ctx)
	if err != nil {
		return 0, err
	}
	return ToNumber(value)
}

func (l Literal) EvaluateBoolean(expression string, ctx Context) (bool, error) {
	value, err := l.resolve(expression, ctx)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %T", ErrNotBool, value)
	}
	return b, nil
}

// ToNumber converts any numeric value to float64.
func ToNumber(value any) (float64, error) {
	var f float64
	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	default:
		return 0, fmt.Errorf("%w: %T", ErrNotNumber, value)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v", ErrNotNumber, f)
	}
	return f, nil
}
