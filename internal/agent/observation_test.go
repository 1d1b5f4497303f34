package agent

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/hived/internal/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Observation
		want Observation
	}{
		{
			name: "valid passes through",
			in: Observation{
				Subject: "AAPL", Score: 7.5, Direction: store.Bullish,
				Confidence: 0.8, Discovery: "breakout", Source: "chart", Dimension: "technical",
			},
			want: Observation{
				Subject: "AAPL", Score: 7.5, Direction: store.Bullish,
				Confidence: 0.8, Discovery: "breakout", Source: "chart", Dimension: "technical",
			},
		},
		{
			name: "nan score falls back to midpoint",
			in:   Observation{Score: math.NaN(), Confidence: 0.5, Direction: store.Neutral, Source: "s", Dimension: "d"},
			want: Observation{Score: 5.0, Confidence: 0.5, Direction: store.Neutral, Source: "s", Dimension: "d"},
		},
		{
			name: "infinite confidence falls back",
			in:   Observation{Score: 3, Confidence: math.Inf(1), Direction: store.Bearish, Source: "s", Dimension: "d"},
			want: Observation{Score: 3, Confidence: 0.5, Direction: store.Bearish, Source: "s", Dimension: "d"},
		},
		{
			name: "out of range clamps",
			in:   Observation{Score: 14, Confidence: -0.3, Direction: store.Bullish, Source: "s", Dimension: "d"},
			want: Observation{Score: 10, Confidence: 0, Direction: store.Bullish, Source: "s", Dimension: "d"},
		},
		{
			name: "unknown direction becomes neutral",
			in:   Observation{Score: 5, Confidence: 0.5, Direction: "sideways", Source: "s", Dimension: "d"},
			want: Observation{Score: 5, Confidence: 0.5, Direction: store.Neutral, Source: "s", Dimension: "d"},
		},
		{
			name: "empty source and dimension get defaults",
			in:   Observation{Score: 5, Confidence: 0.5, Direction: store.Neutral, Source: "  ", Dimension: ""},
			want: Observation{Score: 5, Confidence: 0.5, Direction: store.Neutral, Source: "Unknown", Dimension: "unknown"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeTruncatesLongText(t *testing.T) {
	long := strings.Repeat("x", 2000)
	got := Normalize(Observation{Score: 5, Confidence: 0.5, Direction: store.Neutral, Discovery: long})
	assert.Len(t, got.Discovery, maxFieldLen)
}
