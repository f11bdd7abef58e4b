package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequence(t *testing.T) {
	tests := []struct {
		name string
		cfg  SequenceConfig
		want []any
	}{
		{"defaults", SequenceConfig{}, []any{0, 1, 2}},
		{"start and step", SequenceConfig{Start: 10, Step: 5}, []any{10, 15, 20}},
		{"counting down", SequenceConfig{Start: 3, Step: -1}, []any{3, 2, 1}},
		{"padded", SequenceConfig{Start: 1, Padding: 3, Prefix: "SKU-"}, []any{"SKU-001", "SKU-002", "SKU-003"}},
		{"suffix only", SequenceConfig{Start: 7, Suffix: "a"}, []any{"7a", "8a", "9a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Values(Config{Kind: Sequence, Count: 3, Sequence: tt.cfg})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeq_RestartsAndStopsEarly(t *testing.T) {
	seq, err := Seq(Config{Kind: Sequence, Sequence: SequenceConfig{Start: 1}})
	require.NoError(t, err)

	take := func(n int) []any {
		var out []any
		for v := range seq {
			out = append(out, v)
			if len(out) == n {
				break
			}
		}
		return out
	}
	assert.Equal(t, []any{1, 2, 3, 4}, take(4))
	assert.Equal(t, []any{1, 2}, take(2))
}

func TestFaker_SeedIsRepeatable(t *testing.T) {
	cfg := Config{Kind: Faker, Faker: "email", Seed: 42, Count: 5}

	first, err := Values(cfg)
	require.NoError(t, err)
	second, err := Values(cfg)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	require.Len(t, first, 5)
	for _, v := range first {
		assert.Contains(t, v, "@")
	}
}

func TestFaker_EveryTypeProducesValues(t *testing.T) {
	for _, name := range FakerTypes() {
		t.Run(name, func(t *testing.T) {
			got, err := Values(Config{Kind: Faker, Faker: name, Seed: 7, Count: 2})
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.NotNil(t, got[0])
		})
	}
}

func TestInvalidConfig(t *testing.T) {
	for name, cfg := range map[string]Config{
		"unknown kind":   {Kind: "random", Count: 1},
		"unknown faker":  {Kind: Faker, Faker: "horoscope", Count: 1},
		"zero count":     {Kind: Sequence},
		"negative count": {Kind: Sequence, Count: -1},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Values(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse("faker:productName")
	require.NoError(t, err)
	assert.Equal(t, Config{Kind: Faker, Faker: "productName"}, cfg)

	cfg, err = Parse("sequence:100:10")
	require.NoError(t, err)
	assert.Equal(t, SequenceConfig{Start: 100, Step: 10}, cfg.Sequence)

	cfg, err = Parse("sequence")
	require.NoError(t, err)
	assert.Equal(t, Sequence, cfg.Kind)

	for _, bad := range []string{"faker", "faker:", "sequence:x", "sequence:1:y", "dice:6"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ErrInvalidConfig, bad)
	}
}
