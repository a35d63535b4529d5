// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sandbox

import (
	"math"
	"strings"

	"github.com/dop251/goja"
	"github.com/shopspring/decimal"
)

// Rounding modes, numbered as contract code expects them.
const (
	RoundUp = iota
	RoundDown
	RoundCeil
	RoundFloor
	RoundHalfUp
	RoundHalfDown
	RoundHalfEven
)

// divisionPlaces is the precision of non-terminating quotients.
const divisionPlaces = 20

var roundingModes = []struct {
	name string
	mode int
}{
	{"ROUND_UP", RoundUp},
	{"ROUND_DOWN", RoundDown},
	{"ROUND_CEIL", RoundCeil},
	{"ROUND_FLOOR", RoundFloor},
	{"ROUND_HALF_UP", RoundHalfUp},
	{"ROUND_HALF_DOWN", RoundHalfDown},
	{"ROUND_HALF_EVEN", RoundHalfEven},
}

// bigNumber is an exact decimal, or NaN.
type bigNumber struct {
	d   decimal.Decimal
	nan bool
}

var nan = bigNumber{nan: true}

func newBigNumber(s string) bigNumber {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nan
	}
	return bigNumber{d: d}
}

func bigNumberArg(v goja.Value) bigNumber {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nan
	}
	return newBigNumber(v.String())
}

func (n bigNumber) String() string {
	if n.nan {
		return "NaN"
	}
	return n.d.String()
}

func (n bigNumber) plus(o bigNumber) bigNumber {
	if n.nan || o.nan {
		return nan
	}
	return bigNumber{d: n.d.Add(o.d)}
}

func (n bigNumber) minus(o bigNumber) bigNumber {
	if n.nan || o.nan {
		return nan
	}
	return bigNumber{d: n.d.Sub(o.d)}
}

func (n bigNumber) times(o bigNumber) bigNumber {
	if n.nan || o.nan {
		return nan
	}
	return bigNumber{d: n.d.Mul(o.d)}
}

func (n bigNumber) dividedBy(o bigNumber) bigNumber {
	if n.nan || o.nan || o.d.IsZero() {
		return nan
	}
	return bigNumber{d: n.d.DivRound(o.d, divisionPlaces)}
}

func (n bigNumber) modulo(o bigNumber) bigNumber {
	if n.nan || o.nan || o.d.IsZero() {
		return nan
	}
	return bigNumber{d: n.d.Mod(o.d)}
}

func (n bigNumber) pow(o bigNumber) bigNumber {
	if n.nan || o.nan || !o.isInteger() {
		return nan
	}
	return bigNumber{d: n.d.Pow(o.d)}
}

func (n bigNumber) isInteger() bool {
	return !n.nan && n.d.Equal(n.d.Truncate(0))
}

func (n bigNumber) decimalPlaces() int {
	s := n.d.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

func (n bigNumber) round(places int32, mode int) bigNumber {
	if n.nan {
		return nan
	}
	return bigNumber{d: round(n.d, places, mode)}
}

func round(d decimal.Decimal, places int32, mode int) decimal.Decimal {
	switch mode {
	case RoundUp:
		return d.RoundUp(places)
	case RoundDown:
		return d.RoundDown(places)
	case RoundCeil:
		return d.RoundCeil(places)
	case RoundFloor:
		return d.RoundFloor(places)
	case RoundHalfDown:
		truncated := d.Truncate(places)
		if d.Sub(truncated).Abs().Equal(decimal.New(5, -places-1)) {
			return truncated
		}
		return d.Round(places)
	case RoundHalfEven:
		return d.RoundBank(places)
	default:
		return d.Round(places)
	}
}

func roundingMode(v goja.Value) int {
	if goja.IsUndefined(v) || goja.IsNull(v) {
		return RoundHalfUp
	}
	return int(v.ToInteger())
}

func (r *runner) bigNumberConstructor() *goja.Object {
	ctor := r.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		return r.bigNumber(bigNumberArg(call.Argument(0)))
	}).ToObject(r.vm)
	for _, rm := range roundingModes {
		ctor.Set(rm.name, rm.mode)
	}
	return ctor
}

// bigNumber wraps [n] in an immutable interpreter object.
func (r *runner) bigNumber(n bigNumber) *goja.Object {
	vm := r.vm
	obj := vm.NewObject()

	arithmetic := func(fn func(a, b bigNumber) bigNumber, names ...string) {
		method := func(call goja.FunctionCall) goja.Value {
			return r.bigNumber(fn(n, bigNumberArg(call.Argument(0))))
		}
		for _, name := range names {
			obj.Set(name, method)
		}
	}
	comparison := func(fn func(c int) bool, names ...string) {
		method := func(call goja.FunctionCall) goja.Value {
			o := bigNumberArg(call.Argument(0))
			if n.nan || o.nan {
				return vm.ToValue(false)
			}
			return vm.ToValue(fn(n.d.Cmp(o.d)))
		}
		for _, name := range names {
			obj.Set(name, method)
		}
	}
	predicate := func(name string, fn func() bool) {
		obj.Set(name, func(goja.FunctionCall) goja.Value { return vm.ToValue(fn()) })
	}

	arithmetic(bigNumber.plus, "plus")
	arithmetic(bigNumber.minus, "minus")
	arithmetic(bigNumber.times, "times", "multipliedBy")
	arithmetic(bigNumber.dividedBy, "dividedBy", "div")
	arithmetic(bigNumber.modulo, "modulo", "mod")
	arithmetic(bigNumber.pow, "exponentiatedBy", "pow")

	comparison(func(c int) bool { return c == 0 }, "eq", "isEqualTo")
	comparison(func(c int) bool { return c > 0 }, "gt", "isGreaterThan")
	comparison(func(c int) bool { return c >= 0 }, "gte", "isGreaterThanOrEqualTo")
	comparison(func(c int) bool { return c < 0 }, "lt", "isLessThan")
	comparison(func(c int) bool { return c <= 0 }, "lte", "isLessThanOrEqualTo")

	predicate("isNaN", func() bool { return n.nan })
	predicate("isFinite", func() bool { return !n.nan })
	predicate("isInteger", n.isInteger)
	predicate("isZero", func() bool { return !n.nan && n.d.IsZero() })
	predicate("isPositive", func() bool { return !n.nan && n.d.Sign() > 0 })
	predicate("isNegative", func() bool { return !n.nan && n.d.Sign() < 0 })

	obj.Set("comparedTo", func(call goja.FunctionCall) goja.Value {
		o := bigNumberArg(call.Argument(0))
		if n.nan || o.nan {
			return goja.Null()
		}
		return vm.ToValue(n.d.Cmp(o.d))
	})
	obj.Set("abs", func(goja.FunctionCall) goja.Value {
		if n.nan {
			return r.bigNumber(nan)
		}
		return r.bigNumber(bigNumber{d: n.d.Abs()})
	})
	obj.Set("negated", func(goja.FunctionCall) goja.Value {
		if n.nan {
			return r.bigNumber(nan)
		}
		return r.bigNumber(bigNumber{d: n.d.Neg()})
	})
	decimalPlaces := func(call goja.FunctionCall) goja.Value {
		if goja.IsUndefined(call.Argument(0)) {
			if n.nan {
				return goja.Null()
			}
			return vm.ToValue(n.decimalPlaces())
		}
		return r.bigNumber(n.round(int32(call.Argument(0).ToInteger()), roundingMode(call.Argument(1))))
	}
	obj.Set("dp", decimalPlaces)
	obj.Set("decimalPlaces", decimalPlaces)
	obj.Set("integerValue", func(call goja.FunctionCall) goja.Value {
		return r.bigNumber(n.round(0, roundingMode(call.Argument(0))))
	})
	obj.Set("toFixed", func(call goja.FunctionCall) goja.Value {
		if n.nan || goja.IsUndefined(call.Argument(0)) {
			return vm.ToValue(n.String())
		}
		places := int32(call.Argument(0).ToInteger())
		return vm.ToValue(round(n.d, places, roundingMode(call.Argument(1))).StringFixed(places))
	})
	obj.Set("toNumber", func(goja.FunctionCall) goja.Value {
		if n.nan {
			return vm.ToValue(math.NaN())
		}
		f, _ := n.d.Float64()
		return vm.ToValue(f)
	})
	str := func(goja.FunctionCall) goja.Value { return vm.ToValue(n.String()) }
	obj.Set("toString", str)
	obj.Set("valueOf", str)
	obj.Set("toJSON", str)
	return obj
}
