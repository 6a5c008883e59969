// Package registry holds the built-in model catalog.
//
// A Registry is built once from a catalog and is read-only afterwards, so it
// is safe for concurrent lookups without locking.
package registry

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"curvefit/domain/fit"
	"curvefit/internal/errors"
)

// polynomial variants addressable by degree, e.g. Lookup("polynomial", "3").
var degreeVariants = map[int]string{
	1: "linear",
	2: "quadratic",
	3: "cubic",
	4: "quartic",
	5: "quintic",
}

// Registry maps family/variant keys to immutable model specs.
type Registry struct {
	entries []Entry
	specs   []*fit.ModelSpec
	byKey   map[string]int
}

// New freezes catalog into a Registry. Duplicate keys and incomplete entries
// are rejected.
func New(catalog []Entry) (*Registry, error) {
	r := &Registry{
		entries: make([]Entry, 0, len(catalog)),
		specs:   make([]*fit.ModelSpec, 0, len(catalog)),
		byKey:   make(map[string]int, len(catalog)),
	}
	for _, e := range catalog {
		if e.Family == "" || e.Variant == "" {
			return nil, errors.ConfigInvalid("catalog entry needs a family and a variant")
		}
		k := e.Key()
		if _, dup := r.byKey[k]; dup {
			return nil, errors.ConfigInvalid("duplicate catalog entry " + k)
		}
		spec, err := fit.NewModelSpec(fit.ModelSpecConfig{
			Name:           k,
			Family:         normalize(e.Family),
			Variant:        normalize(e.Variant),
			Kind:           fit.KindBuiltin,
			ParameterNames: e.Parameters,
			VariableNames:  e.Variables,
			Formula:        e.Formula,
			Estimator:      e.Estimator,
			Func:           e.Func,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "catalog entry %s", k)
		}
		r.byKey[k] = len(r.specs)
		r.entries = append(r.entries, e)
		r.specs = append(r.specs, spec)
	}
	return r, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
)

// Default returns the process-wide registry over DefaultCatalog.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := New(DefaultCatalog())
		if err != nil {
			panic("registry: invalid built-in catalog: " + err.Error())
		}
		defaultReg = reg
	})
	return defaultReg
}

// Lookup returns the built-in model for family and variant. Polynomial
// variants may also be given as a degree.
func (r *Registry) Lookup(family, variant string) (*fit.ModelSpec, error) {
	family, variant = normalize(family), normalize(variant)
	if family == FamilyPolynomial {
		if d, err := strconv.Atoi(variant); err == nil {
			if name, ok := degreeVariants[d]; ok {
				variant = name
			}
		}
	}
	if i, ok := r.byKey[key(family, variant)]; ok {
		return r.specs[i], nil
	}
	return nil, errors.Model(errors.ReasonUnknownModel, "unknown built-in model %s/%s", family, variant)
}

// LookupName resolves "family/variant".
func (r *Registry) LookupName(name string) (*fit.ModelSpec, error) {
	family, variant, ok := strings.Cut(name, "/")
	if !ok {
		return nil, errors.Model(errors.ReasonUnknownModel, "model name %q is not family/variant", name)
	}
	return r.Lookup(family, variant)
}

// Compatible returns the models whose arity matches, in catalog order.
func (r *Registry) Compatible(arity int) []*fit.ModelSpec {
	var out []*fit.ModelSpec
	for _, s := range r.specs {
		if s.Arity() == arity {
			out = append(out, s)
		}
	}
	return out
}

// Models returns every model in catalog order.
func (r *Registry) Models() []*fit.ModelSpec {
	return append([]*fit.ModelSpec(nil), r.specs...)
}

// Entries returns a copy of the catalog rows.
func (r *Registry) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Families lists the distinct family names, sorted.
func (r *Registry) Families() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range r.specs {
		if !seen[s.Family()] {
			seen[s.Family()] = true
			out = append(out, s.Family())
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of models.
func (r *Registry) Len() int { return len(r.specs) }

func key(family, variant string) string {
	return normalize(family) + "/" + normalize(variant)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
