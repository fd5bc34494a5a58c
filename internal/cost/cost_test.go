package cost

import (
	"testing"
)

func TestCalculate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name             string
		model            string
		prompt, compl    int64
		wantMin, wantMax float64
	}{
		{
			name:  "zero tokens",
			model: "gpt-5-mini",
			prompt: 0, compl: 0,
			wantMin: 0, wantMax: 0,
		},
		{
			name:  "1M prompt 1M completion",
			model: "gpt-5-mini",
			prompt: 1_000_000, compl: 1_000_000,
			wantMin: 0.375, wantMax: 0.375, // $0.075 + $0.30
		},
		{
			name:  "unknown model",
			model: "gpt-9",
			prompt: 1_000_000, compl: 1_000_000,
			wantMin: 0, wantMax: 0,
		},
		{
			name:  "typical batch of abstracts",
			model: "gpt-5-mini",
			prompt: 4_520_300, compl: 128_900,
			wantMin: 0.37, wantMax: 0.39,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Calculate(tc.model, tc.prompt, tc.compl)
			if got < tc.wantMin || got > tc.wantMax {
				t.Errorf("Calculate(%q, %d, %d) = %f, want [%f, %f]",
					tc.model, tc.prompt, tc.compl, got, tc.wantMin, tc.wantMax)
			}
		})
	}
}

func TestKnown(t *testing.T) {
	t.Parallel()

	if !Known("gpt-5-mini") {
		t.Errorf("expected gpt-5-mini to be priced")
	}
	if Known("gpt-9") {
		t.Errorf("expected gpt-9 to be unpriced")
	}
}

func TestFormatUSD(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input float64
		want  string
	}{
		{0, "$0.00"},
		{0.42, "$0.42"},
		{1.234, "$1.23"},
		{100.5, "$100.50"},
	}

	for _, tc := range tests {
		got := FormatUSD(tc.input)
		if got != tc.want {
			t.Errorf("FormatUSD(%f) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	t.Parallel()

	got := FormatRate("gpt-5-mini")
	if got != "$0.075/$0.30 per 1M tokens" {
		t.Errorf("FormatRate(gpt-5-mini) = %q", got)
	}

	got = FormatRate("unknown")
	if got != "unknown pricing" {
		t.Errorf("FormatRate(unknown) = %q", got)
	}
}
