// Package generator produces value sources for iteration cycles: seeded
// fake data from gofakeit and formatted numeric sequences.
package generator

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
)

// ErrInvalidConfig is returned when a generator configuration is invalid.
var ErrInvalidConfig = errors.New("generator: invalid configuration")

// Kind identifies a generator.
type Kind string

const (
	// Faker draws values from gofakeit.
	Faker Kind = "faker"
	// Sequence counts from Start by Step.
	Sequence Kind = "sequence"
)

// Config describes one value source.
type Config struct {
	Kind Kind `yaml:"kind" json:"kind"`
	// Count bounds the number of values. Zero means unbounded, which only
	// Seq accepts.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`

	// Faker is the faker type, e.g. "email" or "productName".
	Faker string `yaml:"faker,omitempty" json:"faker,omitempty"`
	// Seed makes faker output repeatable. Zero picks a random seed.
	Seed uint64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	Sequence SequenceConfig `yaml:"sequence,omitempty" json:"sequence,omitempty"`
}

// SequenceConfig formats a numeric sequence. Without Padding, Prefix or
// Suffix the values are plain ints.
type SequenceConfig struct {
	Start   int64  `yaml:"start,omitempty" json:"start,omitempty"`
	Step    int64  `yaml:"step,omitempty" json:"step,omitempty"`
	Padding int    `yaml:"padding,omitempty" json:"padding,omitempty"`
	Prefix  string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	Suffix  string `yaml:"suffix,omitempty" json:"suffix,omitempty"`
}

// Parse reads a short form such as "faker:email" or "sequence:1:2".
func Parse(s string) (Config, error) {
	kind, rest, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch Kind(kind) {
	case Faker:
		if rest == "" {
			return Config{}, fmt.Errorf("%w: faker type is required", ErrInvalidConfig)
		}
		return Config{Kind: Faker, Faker: rest}, nil
	case Sequence:
		cfg := Config{Kind: Sequence}
		if rest == "" {
			return cfg, nil
		}
		start, step, _ := strings.Cut(rest, ":")
		if _, err := fmt.Sscan(start, &cfg.Sequence.Start); err != nil {
			return Config{}, fmt.Errorf("%w: sequence start %q", ErrInvalidConfig, start)
		}
		if step != "" {
			if _, err := fmt.Sscan(step, &cfg.Sequence.Step); err != nil {
				return Config{}, fmt.Errorf("%w: sequence step %q", ErrInvalidConfig, step)
			}
		}
		return cfg, nil
	}
	return Config{}, fmt.Errorf("%w: unknown generator %q", ErrInvalidConfig, s)
}

// Seq returns the configured source. Each call restarts it, so a seeded
// faker or a sequence yields the same values every time.
func Seq(cfg Config) (iter.Seq[any], error) {
	next, err := source(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Count < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrInvalidConfig, cfg.Count)
	}
	return func(yield func(any) bool) {
		gen := next()
		for i := 0; cfg.Count == 0 || i < cfg.Count; i++ {
			if !yield(gen()) {
				return
			}
		}
	}, nil
}

// Values returns Count values. Count must be positive.
func Values(cfg Config) ([]any, error) {
	if cfg.Count <= 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrInvalidConfig)
	}
	seq, err := Seq(cfg)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// source validates cfg and returns a factory of fresh generator functions.
func source(cfg Config) (func() func() any, error) {
	switch cfg.Kind {
	case Faker:
		fn, ok := fakerFunctions[cfg.Faker]
		if !ok {
			return nil, fmt.Errorf("%w: unknown faker type: %s", ErrInvalidConfig, cfg.Faker)
		}
		return func() func() any {
			f := gofakeit.New(cfg.Seed)
			return func() any { return fn(f) }
		}, nil
	case Sequence:
		return sequence(cfg.Sequence), nil
	}
	return nil, fmt.Errorf("%w: unknown generator kind %q", ErrInvalidConfig, cfg.Kind)
}

func sequence(cfg SequenceConfig) func() func() any {
	if cfg.Step == 0 {
		cfg.Step = 1
	}
	plain := cfg.Padding <= 0 && cfg.Prefix == "" && cfg.Suffix == ""
	format := "%d"
	if cfg.Padding > 0 {
		format = fmt.Sprintf("%%0%dd", cfg.Padding)
	}
	return func() func() any {
		current := cfg.Start - cfg.Step
		return func() any {
			current += cfg.Step
			if plain {
				return int(current)
			}
			return cfg.Prefix + fmt.Sprintf(format, current) + cfg.Suffix
		}
	}
}

// FakerTypes returns the supported faker types, sorted.
func FakerTypes() []string {
	types := make([]string, 0, len(fakerFunctions))
	for t := range fakerFunctions {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

var fakerFunctions = map[string]func(*gofakeit.Faker) any{
	"name":      func(f *gofakeit.Faker) any { return f.Name() },
	"firstName": func(f *gofakeit.Faker) any { return f.FirstName() },
	"lastName":  func(f *gofakeit.Faker) any { return f.LastName() },
	"email":     func(f *gofakeit.Faker) any { return f.Email() },
	"phone":     func(f *gofakeit.Faker) any { return f.Phone() },
	"username":  func(f *gofakeit.Faker) any { return f.Username() },

	"city":    func(f *gofakeit.Faker) any { return f.City() },
	"country": func(f *gofakeit.Faker) any { return f.Country() },
	"zipCode": func(f *gofakeit.Faker) any { return f.Zip() },

	"company":         func(f *gofakeit.Faker) any { return f.Company() },
	"productName":     func(f *gofakeit.Faker) any { return f.ProductName() },
	"productCategory": func(f *gofakeit.Faker) any { return f.ProductCategory() },
	"currency":        func(f *gofakeit.Faker) any { return f.Currency().Short },

	"url":  func(f *gofakeit.Faker) any { return f.URL() },
	"uuid": func(f *gofakeit.Faker) any { return f.UUID() },
	"word": func(f *gofakeit.Faker) any { return f.Word() },

	"number": func(f *gofakeit.Faker) any { return f.Number(1, 100) },
	"price":  func(f *gofakeit.Faker) any { return f.Price(1, 1000) },
	"bool":   func(f *gofakeit.Faker) any { return f.Bool() },
	"date":   func(f *gofakeit.Faker) any { return f.Date().Format("2006-01-02") },
	"color":  func(f *gofakeit.Faker) any { return f.Color() },
}
