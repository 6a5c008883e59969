package formula

import "math"

// function is an allow-listed callable. Exactly one of f1/f2 is set.
type function struct {
	arity int
	f1    func(float64) float64
	f2    func(float64, float64) float64
}

// functions is the complete allow-list. Names outside it never resolve.
var functions = map[string]function{
	"sin":   {arity: 1, f1: math.Sin},
	"cos":   {arity: 1, f1: math.Cos},
	"tan":   {arity: 1, f1: math.Tan},
	"asin":  {arity: 1, f1: math.Asin},
	"acos":  {arity: 1, f1: math.Acos},
	"atan":  {arity: 1, f1: math.Atan},
	"sinh":  {arity: 1, f1: math.Sinh},
	"cosh":  {arity: 1, f1: math.Cosh},
	"tanh":  {arity: 1, f1: math.Tanh},
	"asinh": {arity: 1, f1: math.Asinh},
	"acosh": {arity: 1, f1: math.Acosh},
	"atanh": {arity: 1, f1: math.Atanh},
	"exp":   {arity: 1, f1: math.Exp},
	"ln":    {arity: 1, f1: math.Log},
	"log":   {arity: 1, f1: math.Log},
	"log10": {arity: 1, f1: math.Log10},
	"log2":  {arity: 1, f1: math.Log2},
	"sqrt":  {arity: 1, f1: math.Sqrt},
	"cbrt":  {arity: 1, f1: math.Cbrt},
	"abs":   {arity: 1, f1: math.Abs},
	"pow":   {arity: 2, f2: math.Pow},
	"atan2": {arity: 2, f2: math.Atan2},
}

var constants = map[string]float64{
	"pi": math.Pi,
	"π":  math.Pi,
	"e":  math.E,
}

func reserved(name string) bool {
	if _, ok := functions[name]; ok {
		return true
	}
	_, ok := constants[name]
	return ok
}
