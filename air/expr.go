package air

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/volta-zk/volta/field"
)

type exprOp uint8

const (
	opConst exprOp = iota
	opMain
	opPre
	opPublic
	opAdd
	opSub
	opMul
	opNeg
)

// Expr is a multivariate polynomial over trace cells. Leaves reference a
// constant, a main or preprocessed column on the current or next row, or a
// public value; internal nodes are field operations. Expressions are
// immutable; combinators return fresh nodes.
type Expr struct {
	op   exprOp
	x, y *Expr
	c    field.Felt
	idx  int
	next bool
}

// Col references main trace column i on the current row.
func Col(i int) *Expr {
	return &Expr{op: opMain, idx: i}
}

// ColNext references main trace column i on the next row.
func ColNext(i int) *Expr {
	return &Expr{op: opMain, idx: i, next: true}
}

// Pre references preprocessed column i on the current row.
func Pre(i int) *Expr {
	return &Expr{op: opPre, idx: i}
}

// PreNext references preprocessed column i on the next row.
func PreNext(i int) *Expr {
	return &Expr{op: opPre, idx: i, next: true}
}

// Public references public value i.
func Public(i int) *Expr {
	return &Expr{op: opPublic, idx: i}
}

// Const lifts v into an expression.
func Const(v uint64) *Expr {
	return &Expr{op: opConst, c: field.NewFelt(v)}
}

// ConstFelt lifts a field element into an expression.
func ConstFelt(f field.Felt) *Expr {
	return &Expr{op: opConst, c: f}
}

func (e *Expr) Add(o *Expr) *Expr {
	return &Expr{op: opAdd, x: e, y: o}
}

func (e *Expr) Sub(o *Expr) *Expr {
	return &Expr{op: opSub, x: e, y: o}
}

func (e *Expr) Mul(o *Expr) *Expr {
	return &Expr{op: opMul, x: e, y: o}
}

func (e *Expr) Neg() *Expr {
	return &Expr{op: opNeg, x: e}
}

// AddConst returns e + v.
func (e *Expr) AddConst(v uint64) *Expr {
	return e.Add(Const(v))
}

// SubConst returns e - v.
func (e *Expr) SubConst(v uint64) *Expr {
	return e.Sub(Const(v))
}

// MulConst returns e * v.
func (e *Expr) MulConst(v uint64) *Expr {
	return e.Mul(Const(v))
}

// Sum folds the terms with addition. An empty sum is the zero constant.
func Sum(terms ...*Expr) *Expr {
	if len(terms) == 0 {
		return Const(0)
	}
	acc := terms[0]
	for _, t := range terms[1:] {
		acc = acc.Add(t)
	}
	return acc
}

// Dot returns the weighted sum sum_i coeffs[i]*terms[i].
func Dot(coeffs []field.Felt, terms []*Expr) *Expr {
	if len(coeffs) != len(terms) {
		panic("air: dot product length mismatch")
	}
	acc := Const(0)
	for i := range terms {
		acc = acc.Add(terms[i].Mul(ConstFelt(coeffs[i])))
	}
	return acc
}

// Degree returns the multiplicative degree of e, counting every column and
// public reference as degree one.
func (e *Expr) Degree() int {
	switch e.op {
	case opConst:
		return 0
	case opMain, opPre, opPublic:
		return 1
	case opAdd, opSub:
		dx := e.x.Degree()
		dy := e.y.Degree()
		if dx > dy {
			return dx
		}
		return dy
	case opMul:
		return e.x.Degree() + e.y.Degree()
	case opNeg:
		return e.x.Degree()
	default:
		panic("air: unknown expression op")
	}
}

// Frame carries the cell values an expression is evaluated against. Values
// live in the challenge field: the prover lifts base cells, the verifier
// substitutes out-of-domain openings.
type Frame struct {
	Main     []field.Ext
	MainNext []field.Ext
	Pre      []field.Ext
	PreNext  []field.Ext
	Publics  []field.Ext
}

// Eval evaluates e against the frame.
func (e *Expr) Eval(f *Frame) field.Ext {
	switch e.op {
	case opConst:
		return field.ExtFromFelt(e.c)
	case opMain:
		if e.next {
			return f.MainNext[e.idx]
		}
		return f.Main[e.idx]
	case opPre:
		if e.next {
			return f.PreNext[e.idx]
		}
		return f.Pre[e.idx]
	case opPublic:
		return f.Publics[e.idx]
	case opAdd:
		a := e.x.Eval(f)
		b := e.y.Eval(f)
		a.Add(&a, &b)
		return a
	case opSub:
		a := e.x.Eval(f)
		b := e.y.Eval(f)
		a.Sub(&a, &b)
		return a
	case opMul:
		a := e.x.Eval(f)
		b := e.y.Eval(f)
		a.Mul(&a, &b)
		return a
	case opNeg:
		a := e.x.Eval(f)
		var z field.Ext
		z.Sub(&z, &a)
		return z
	default:
		panic("air: unknown expression op")
	}
}

// BaseFrame carries base field cell values. The prover evaluates constraints
// over extended domain rows with it, where every cell is a base element and
// the challenge field only enters through the fold.
type BaseFrame struct {
	Main     []field.Felt
	MainNext []field.Felt
	Pre      []field.Felt
	PreNext  []field.Felt
	Publics  []field.Felt
}

// EvalBase evaluates e against a base field frame.
func (e *Expr) EvalBase(f *BaseFrame) field.Felt {
	switch e.op {
	case opConst:
		return e.c
	case opMain:
		if e.next {
			return f.MainNext[e.idx]
		}
		return f.Main[e.idx]
	case opPre:
		if e.next {
			return f.PreNext[e.idx]
		}
		return f.Pre[e.idx]
	case opPublic:
		return f.Publics[e.idx]
	case opAdd:
		a := e.x.EvalBase(f)
		b := e.y.EvalBase(f)
		a.Add(&a, &b)
		return a
	case opSub:
		a := e.x.EvalBase(f)
		b := e.y.EvalBase(f)
		a.Sub(&a, &b)
		return a
	case opMul:
		a := e.x.EvalBase(f)
		b := e.y.EvalBase(f)
		a.Mul(&a, &b)
		return a
	case opNeg:
		a := e.x.EvalBase(f)
		a.Neg(&a)
		return a
	default:
		panic("air: unknown expression op")
	}
}

// visit walks the leaves of e.
func (e *Expr) visit(fn func(*Expr)) {
	switch e.op {
	case opConst, opMain, opPre, opPublic:
		fn(e)
	case opNeg:
		e.x.visit(fn)
	default:
		e.x.visit(fn)
		e.y.visit(fn)
	}
}

func (e *Expr) String() string {
	var sb strings.Builder
	e.write(&sb)
	return sb.String()
}

func (e *Expr) write(sb *strings.Builder) {
	switch e.op {
	case opConst:
		sb.WriteString(e.c.String())
	case opMain:
		sb.WriteString("m[")
		sb.WriteString(strconv.Itoa(e.idx))
		sb.WriteString("]")
		if e.next {
			sb.WriteString("'")
		}
	case opPre:
		sb.WriteString("p[")
		sb.WriteString(strconv.Itoa(e.idx))
		sb.WriteString("]")
		if e.next {
			sb.WriteString("'")
		}
	case opPublic:
		fmt.Fprintf(sb, "pub[%d]", e.idx)
	case opAdd:
		sb.WriteString("(")
		e.x.write(sb)
		sb.WriteString(" + ")
		e.y.write(sb)
		sb.WriteString(")")
	case opSub:
		sb.WriteString("(")
		e.x.write(sb)
		sb.WriteString(" - ")
		e.y.write(sb)
		sb.WriteString(")")
	case opMul:
		sb.WriteString("(")
		e.x.write(sb)
		sb.WriteString("*")
		e.y.write(sb)
		sb.WriteString(")")
	case opNeg:
		sb.WriteString("-")
		e.x.write(sb)
	}
}
