package calibration

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultTable(t *testing.T) *Table {
	t.Helper()
	table, err := NewTable(DefaultPoints(), 4095)
	require.NoError(t, err)
	return table
}

func TestNewTable_Validation(t *testing.T) {
	tests := []struct {
		name    string
		points  []Point
		maxCode uint16
		wantErr error
	}{
		{"empty", nil, 4095, ErrTooFewPoints},
		{"single point", []Point{{100, 1}}, 4095, ErrTooFewPoints},
		{"descending", []Point{{200, 1}, {100, 2}}, 4095, ErrNotAscending},
		{"duplicate raw", []Point{{100, 1}, {100, 2}}, 4095, ErrNotAscending},
		{"zero max code", []Point{{100, 1}, {200, 2}}, 0, ErrInvalidMaxCode},
		{"valid", []Point{{100, 1}, {200, 2}}, 4095, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.points, tt.maxCode)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestInterpolate_ExactAtPoints(t *testing.T) {
	table := newDefaultTable(t)
	for _, p := range DefaultPoints() {
		assert.InDelta(t, p.MA, table.Interpolate(p.Raw), 1e-9, "raw %d", p.Raw)
	}
}

func TestInterpolate_Midpoint(t *testing.T) {
	table := newDefaultTable(t)
	// halfway between (1046, 0.1) and (1116, 0.2)
	assert.InDelta(t, 0.15, table.Interpolate(1081), 1e-9)
}

func TestInterpolate_Extrapolation(t *testing.T) {
	table := newDefaultTable(t)

	// below the table the first segment is extended and floored at zero
	assert.Equal(t, 0.0, table.Interpolate(0))
	assert.InDelta(t, 0.05, table.Interpolate(1011), 1e-9)

	// above the table the last segment (1876,1.8)-(1956,2.0) is extended
	assert.InDelta(t, 2.2, table.Interpolate(2036), 1e-9)
}

func TestLookup_MatchesInterpolate(t *testing.T) {
	table := newDefaultTable(t)
	for code := 0; code <= 4095; code++ {
		if table.Lookup(uint16(code)) != table.Interpolate(uint16(code)) {
			t.Fatalf("Lookup(%d) = %v, Interpolate = %v", code, table.Lookup(uint16(code)), table.Interpolate(uint16(code)))
		}
	}
	// outside the LUT domain falls back to interpolation
	assert.Equal(t, table.Interpolate(5000), table.Lookup(5000))
}

func TestSigned(t *testing.T) {
	table := newDefaultTable(t)

	assert.InDelta(t, 1.0, table.Signed(1522), 1e-9)
	assert.InDelta(t, -1.0, table.Signed(-1522), 1e-9)
	assert.Equal(t, 0.0, table.Signed(0))
	assert.Equal(t, table.Lookup(4095), -table.Signed(-4095))
}

func TestRaw_InvertsInterpolate(t *testing.T) {
	table := newDefaultTable(t)

	for _, p := range DefaultPoints() {
		assert.Equal(t, p.Raw, table.Raw(p.MA), "ma %v", p.MA)
	}
	for ma := 0.1; ma <= 2.0; ma += 0.05 {
		raw := table.Raw(ma)
		assert.InDelta(t, ma, table.Interpolate(raw), 0.01, "ma %v raw %d", ma, raw)
	}

	assert.Equal(t, uint16(4095), table.Raw(100))
	assert.Equal(t, uint16(976), table.Raw(0))
}

func TestPoints_ReturnsCopy(t *testing.T) {
	table := newDefaultTable(t)
	pts := table.Points()
	pts[0].MA = 99
	assert.InDelta(t, 0.1, table.Interpolate(1046), 1e-9)
	assert.Equal(t, uint16(4095), table.MaxCode())
}

func BenchmarkLookup(b *testing.B) {
	table, err := NewTable(DefaultPoints(), 4095)
	if err != nil {
		b.Fatal(err)
	}
	var sink float64
	for i := 0; i < b.N; i++ {
		sink += table.Lookup(uint16(i & 4095))
	}
	_ = sink
}

func BenchmarkInterpolate(b *testing.B) {
	table, err := NewTable(DefaultPoints(), 4095)
	if err != nil {
		b.Fatal(err)
	}
	var sink float64
	for i := 0; i < b.N; i++ {
		sink += table.Interpolate(uint16(i & 4095))
	}
	_ = sink
}
