package registry

import (
	"math"

	"curvefit/domain/fit"
)

// Estimator tags understood by internal/estimate.
const (
	EstPolynomial        = "polynomial"
	EstPlane             = "plane"
	EstSinusoid          = "sinusoid"
	EstCosinusoid        = "cosinusoid"
	EstReciprocal        = "reciprocal"
	EstInverseSquare     = "inverse_square"
	EstRational          = "rational"
	EstExponential       = "exponential"
	EstExponentialOffset = "exponential_offset"
	EstLogarithmic       = "logarithmic"
	EstPowerLaw          = "power_law"
	EstGaussian          = "gaussian"
	EstLogistic          = "logistic"
)

// Families of the built-in catalog.
const (
	FamilyPolynomial    = "polynomial"
	FamilyTrigonometric = "trigonometric"
	FamilyInverse       = "inverse"
	FamilySpecial       = "special"
)

// Entry is one catalog row. Formula is the display form in the custom
// formula grammar; Func is the closed-form callable actually evaluated.
type Entry struct {
	Family      string   `json:"family" yaml:"family"`
	Variant     string   `json:"variant" yaml:"variant"`
	Description string   `json:"description" yaml:"description"`
	Formula     string   `json:"formula" yaml:"formula"`
	Variables   []string `json:"variables" yaml:"variables"`
	Parameters  []string `json:"parameters" yaml:"parameters"`
	Estimator   string   `json:"estimator" yaml:"estimator"`
	Func        fit.Func `json:"-" yaml:"-"`
}

// Key returns the stable lookup key family/variant.
func (e Entry) Key() string { return key(e.Family, e.Variant) }

var (
	oneX = []string{"x"}
	p2   = []string{"p0", "p1"}
	p3   = []string{"p0", "p1", "p2"}
	p4   = []string{"p0", "p1", "p2", "p3"}
)

func poly(degree int) fit.Func {
	return func(x, p []float64) float64 {
		// Horner
		y := p[degree]
		for i := degree - 1; i >= 0; i-- {
			y = y*x[0] + p[i]
		}
		return y
	}
}

func polyParams(degree int) []string {
	names := make([]string, degree+1)
	for i := range names {
		names[i] = "p" + string(rune('0'+i))
	}
	return names
}

// DefaultCatalog returns the built-in model catalog in checker order.
func DefaultCatalog() []Entry {
	return []Entry{
		{
			Family: FamilyPolynomial, Variant: "linear", Description: "straight line",
			Formula: "p0 + p1*x", Variables: oneX, Parameters: p2,
			Estimator: EstPolynomial, Func: poly(1),
		},
		{
			Family: FamilyPolynomial, Variant: "quadratic", Description: "second degree polynomial",
			Formula: "p0 + p1*x + p2*x^2", Variables: oneX, Parameters: polyParams(2),
			Estimator: EstPolynomial, Func: poly(2),
		},
		{
			Family: FamilyPolynomial, Variant: "cubic", Description: "third degree polynomial",
			Formula: "p0 + p1*x + p2*x^2 + p3*x^3", Variables: oneX, Parameters: polyParams(3),
			Estimator: EstPolynomial, Func: poly(3),
		},
		{
			Family: FamilyPolynomial, Variant: "quartic", Description: "fourth degree polynomial",
			Formula: "p0 + p1*x + p2*x^2 + p3*x^3 + p4*x^4", Variables: oneX, Parameters: polyParams(4),
			Estimator: EstPolynomial, Func: poly(4),
		},
		{
			Family: FamilyPolynomial, Variant: "quintic", Description: "fifth degree polynomial",
			Formula: "p0 + p1*x + p2*x^2 + p3*x^3 + p4*x^4 + p5*x^5", Variables: oneX, Parameters: polyParams(5),
			Estimator: EstPolynomial, Func: poly(5),
		},
		{
			Family: FamilyPolynomial, Variant: "plane", Description: "plane in two variables",
			Formula: "p0 + p1*x1 + p2*x2", Variables: []string{"x1", "x2"}, Parameters: p3,
			Estimator: EstPlane,
			Func: func(x, p []float64) float64 {
				return p[0] + p[1]*x[0] + p[2]*x[1]
			},
		},
		{
			Family: FamilyTrigonometric, Variant: "sine", Description: "amplitude, angular frequency, phase, offset",
			Formula: "p0*sin(p1*x + p2) + p3", Variables: oneX, Parameters: p4,
			Estimator: EstSinusoid,
			Func: func(x, p []float64) float64 {
				return p[0]*math.Sin(p[1]*x[0]+p[2]) + p[3]
			},
		},
		{
			Family: FamilyTrigonometric, Variant: "cosine", Description: "amplitude, angular frequency, phase, offset",
			Formula: "p0*cos(p1*x + p2) + p3", Variables: oneX, Parameters: p4,
			Estimator: EstCosinusoid,
			Func: func(x, p []float64) float64 {
				return p[0]*math.Cos(p[1]*x[0]+p[2]) + p[3]
			},
		},
		{
			Family: FamilyInverse, Variant: "reciprocal", Description: "hyperbola with horizontal asymptote",
			Formula: "p0/x + p1", Variables: oneX, Parameters: p2,
			Estimator: EstReciprocal,
			Func: func(x, p []float64) float64 {
				return p[0]/x[0] + p[1]
			},
		},
		{
			Family: FamilyInverse, Variant: "inverse_square", Description: "inverse square law with offset",
			Formula: "p0/x^2 + p1", Variables: oneX, Parameters: p2,
			Estimator: EstInverseSquare,
			Func: func(x, p []float64) float64 {
				return p[0]/(x[0]*x[0]) + p[1]
			},
		},
		{
			Family: FamilyInverse, Variant: "rational", Description: "first order rational function",
			Formula: "(p0*x + p1)/(x + p2)", Variables: oneX, Parameters: p3,
			Estimator: EstRational,
			Func: func(x, p []float64) float64 {
				return (p[0]*x[0] + p[1]) / (x[0] + p[2])
			},
		},
		{
			Family: FamilySpecial, Variant: "exponential", Description: "exponential growth or decay",
			Formula: "p0*exp(p1*x)", Variables: oneX, Parameters: p2,
			Estimator: EstExponential,
			Func: func(x, p []float64) float64 {
				return p[0] * math.Exp(p[1]*x[0])
			},
		},
		{
			Family: FamilySpecial, Variant: "exponential_offset", Description: "exponential approaching an asymptote",
			Formula: "p0*exp(p1*x) + p2", Variables: oneX, Parameters: p3,
			Estimator: EstExponentialOffset,
			Func: func(x, p []float64) float64 {
				return p[0]*math.Exp(p[1]*x[0]) + p[2]
			},
		},
		{
			Family: FamilySpecial, Variant: "logarithmic", Description: "logarithm with offset",
			Formula: "p0*ln(x) + p1", Variables: oneX, Parameters: p2,
			Estimator: EstLogarithmic,
			Func: func(x, p []float64) float64 {
				return p[0]*math.Log(x[0]) + p[1]
			},
		},
		{
			Family: FamilySpecial, Variant: "power_law", Description: "power law",
			Formula: "p0*x^p1", Variables: oneX, Parameters: p2,
			Estimator: EstPowerLaw,
			Func: func(x, p []float64) float64 {
				return p[0] * math.Pow(x[0], p[1])
			},
		},
		{
			Family: FamilySpecial, Variant: "gaussian", Description: "height, centre, width",
			Formula: "p0*exp(-(x - p1)^2/(2*p2^2))", Variables: oneX, Parameters: p3,
			Estimator: EstGaussian,
			Func: func(x, p []float64) float64 {
				d := x[0] - p[1]
				return p[0] * math.Exp(-d*d/(2*p[2]*p[2]))
			},
		},
		{
			Family: FamilySpecial, Variant: "logistic", Description: "ceiling, steepness, midpoint",
			Formula: "p0/(1 + exp(-p1*(x - p2)))", Variables: oneX, Parameters: p3,
			Estimator: EstLogistic,
			Func: func(x, p []float64) float64 {
				return p[0] / (1 + math.Exp(-p[1]*(x[0]-p[2])))
			},
		},
	}
}
