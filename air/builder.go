package air

import (
	"fmt"
	"strings"

	"github.com/volta-zk/volta/debug"
)

// Chip is a table of the machine: it owns a slice of main trace columns,
// optionally preprocessed columns fixed at setup, and declares its
// constraints and interactions through a Builder.
//
// Eval must be deterministic and must not depend on a particular trace: it
// is called once by the prover and once by the verifier to rebuild the same
// constraint set.
type Chip interface {
	Name() string
	MainWidth() int
	PreprocessedWidth() int
	Eval(b *Builder)
}

// Constraint is a polynomial identity enforced on a row domain.
type Constraint struct {
	E      *Expr
	Domain Domain

	// Stack records where the constraint was declared, resolved against the
	// builder symbol table. Populated only under the debug build tag.
	Stack []int
}

// Interaction is one multiset message. Fields are the message payload, Mult
// its multiplicity; a send adds the message to the bus, a receive removes
// it. The machine folds all interactions of a segment into a single lookup
// argument whose global sum must cancel.
type Interaction struct {
	Bus    Bus
	Fields []*Expr
	Mult   *Expr
	IsSend bool
}

// Builder collects the constraints and interactions of one chip. Methods
// panic on malformed declarations: a chip that references columns out of
// range or exceeds degree bounds is a programming error, not an input
// error.
type Builder struct {
	name      string
	mainWidth int
	preWidth  int
	nbPublics int

	constraints  []Constraint
	interactions []Interaction

	st debug.SymbolTable
}

// NewBuilder returns a Builder for a chip with the given column counts.
func NewBuilder(name string, mainWidth, preWidth, nbPublics int) *Builder {
	return &Builder{
		name:      name,
		mainWidth: mainWidth,
		preWidth:  preWidth,
		nbPublics: nbPublics,
		st:        debug.NewSymbolTable(),
	}
}

// Run evaluates the chip against a fresh builder and returns it.
func Run(c Chip) *Builder {
	b := NewBuilder(c.Name(), c.MainWidth(), c.PreprocessedWidth(), 0)
	c.Eval(b)
	return b
}

func (b *Builder) Name() string { return b.name }

func (b *Builder) MainWidth() int { return b.mainWidth }

func (b *Builder) PreWidth() int { return b.preWidth }

func (b *Builder) NbPublics() int { return b.nbPublics }

// Constraints returns the registered constraints in declaration order.
func (b *Builder) Constraints() []Constraint { return b.constraints }

// Interactions returns the registered interactions in declaration order.
func (b *Builder) Interactions() []Interaction { return b.interactions }

// SetPublicCount widens the number of public values expressions may
// reference. The machine sets it before evaluating chips that bind publics.
func (b *Builder) SetPublicCount(n int) { b.nbPublics = n }

// AssertZero enforces e == 0 on every row.
func (b *Builder) AssertZero(e *Expr) {
	b.addConstraint(e, All)
}

// AssertZeroFirst enforces e == 0 on the first row.
func (b *Builder) AssertZeroFirst(e *Expr) {
	b.addConstraint(e, FirstRow)
}

// AssertZeroLast enforces e == 0 on the last row.
func (b *Builder) AssertZeroLast(e *Expr) {
	b.addConstraint(e, LastRow)
}

// AssertZeroTransition enforces e == 0 on every row but the last.
func (b *Builder) AssertZeroTransition(e *Expr) {
	b.addConstraint(e, Transition)
}

// AssertEqual enforces x == y on every row.
func (b *Builder) AssertEqual(x, y *Expr) {
	b.AssertZero(x.Sub(y))
}

// AssertBool enforces e in {0,1} on every row.
func (b *Builder) AssertBool(e *Expr) {
	b.AssertZero(e.Mul(e.SubConst(1)))
}

// Send adds a message to bus with the given multiplicity.
func (b *Builder) Send(bus Bus, fields []*Expr, mult *Expr) {
	b.addInteraction(bus, fields, mult, true)
}

// Receive removes a message from bus with the given multiplicity.
func (b *Builder) Receive(bus Bus, fields []*Expr, mult *Expr) {
	b.addInteraction(bus, fields, mult, false)
}

func (b *Builder) addConstraint(e *Expr, d Domain) {
	b.checkRefs(e)
	maxDeg := MaxDegree
	if d == FirstRow || d == LastRow {
		maxDeg = MaxBoundaryDegree
	}
	if deg := e.Degree(); deg > maxDeg {
		panic(fmt.Sprintf("air: chip %s: constraint of degree %d on %s rows exceeds bound %d: %s",
			b.name, deg, d, maxDeg, e))
	}
	c := Constraint{E: e, Domain: d}
	if debug.Debug {
		c.Stack = b.st.CollectStack()
	}
	b.constraints = append(b.constraints, c)
}

func (b *Builder) addInteraction(bus Bus, fields []*Expr, mult *Expr, send bool) {
	if bus >= busCount {
		panic(fmt.Sprintf("air: chip %s: unknown bus %d", b.name, bus))
	}
	if len(fields) == 0 {
		panic(fmt.Sprintf("air: chip %s: interaction on bus %s with no fields", b.name, bus))
	}
	for _, f := range fields {
		b.checkRefs(f)
		if deg := f.Degree(); deg > MaxDegree-1 {
			panic(fmt.Sprintf("air: chip %s: interaction field of degree %d on bus %s exceeds bound %d",
				b.name, deg, bus, MaxDegree-1))
		}
	}
	b.checkRefs(mult)
	if deg := mult.Degree(); deg > MaxDegree-1 {
		panic(fmt.Sprintf("air: chip %s: interaction multiplicity of degree %d on bus %s exceeds bound %d",
			b.name, deg, bus, MaxDegree-1))
	}
	b.interactions = append(b.interactions, Interaction{
		Bus:    bus,
		Fields: fields,
		Mult:   mult,
		IsSend: send,
	})
}

func (b *Builder) checkRefs(e *Expr) {
	e.visit(func(leaf *Expr) {
		switch leaf.op {
		case opMain:
			if leaf.idx < 0 || leaf.idx >= b.mainWidth {
				panic(fmt.Sprintf("air: chip %s: main column %d out of range [0,%d)", b.name, leaf.idx, b.mainWidth))
			}
		case opPre:
			if leaf.idx < 0 || leaf.idx >= b.preWidth {
				panic(fmt.Sprintf("air: chip %s: preprocessed column %d out of range [0,%d)", b.name, leaf.idx, b.preWidth))
			}
		case opPublic:
			if leaf.idx < 0 || leaf.idx >= b.nbPublics {
				panic(fmt.Sprintf("air: chip %s: public value %d out of range [0,%d)", b.name, leaf.idx, b.nbPublics))
			}
		}
	})
}

// Symbols exposes the builder's collected symbol table. Empty unless the
// debug build tag is on.
func (b *Builder) Symbols() *debug.SymbolTable { return &b.st }

// ConstraintLocation resolves the declaration site of constraint i to a
// readable string. Empty when the debug build tag is off.
func (b *Builder) ConstraintLocation(i int) string {
	if i < 0 || i >= len(b.constraints) || len(b.constraints[i].Stack) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, lID := range b.constraints[i].Stack {
		loc := b.st.Locations[lID]
		fn := b.st.Functions[loc.FunctionID]
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", fn.Name, fn.Filename, loc.Line)
	}
	return sb.String()
}

// MaxConstraintDegree returns the highest folded degree across constraints,
// accounting for the transition selector.
func (b *Builder) MaxConstraintDegree() int {
	max := 0
	for _, c := range b.constraints {
		d := c.E.Degree()
		if c.Domain == Transition {
			d++
		}
		if d > max {
			max = d
		}
	}
	return max
}

// EvalConstraints evaluates every constraint against the frame and reports
// the indices of those that do not vanish. Used by the machine debug path
// on raw traces before committing.
func (b *Builder) EvalConstraints(f *Frame, domainOK func(Domain) bool) []int {
	var failing []int
	for i, c := range b.constraints {
		if !domainOK(c.Domain) {
			continue
		}
		if v := c.E.Eval(f); !v.IsZero() {
			failing = append(failing, i)
		}
	}
	return failing
}
