package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixed_Delay(t *testing.T) {
	s := &Fixed{Interval: 5 * time.Second}

	for attempt := 1; attempt <= 5; attempt++ {
		assert.Equal(t, 5*time.Second, s.Delay(attempt))
	}
}

func TestLinear_Delay(t *testing.T) {
	s := &Linear{Initial: time.Second, Increment: 2 * time.Second, Max: 6 * time.Second}

	assert.Equal(t, 1*time.Second, s.Delay(1))
	assert.Equal(t, 3*time.Second, s.Delay(2))
	assert.Equal(t, 5*time.Second, s.Delay(3))
	// Capped at Max from here on.
	assert.Equal(t, 6*time.Second, s.Delay(4))
	assert.Equal(t, 6*time.Second, s.Delay(10))
}

func TestExponential_Delay(t *testing.T) {
	s := &Exponential{Initial: time.Second, Multiplier: 2, Max: 30 * time.Second}

	assert.Equal(t, 1*time.Second, s.Delay(1))
	assert.Equal(t, 2*time.Second, s.Delay(2))
	assert.Equal(t, 4*time.Second, s.Delay(3))
	assert.Equal(t, 8*time.Second, s.Delay(4))
	assert.Equal(t, 16*time.Second, s.Delay(5))
	assert.Equal(t, 30*time.Second, s.Delay(6))
	assert.Equal(t, 30*time.Second, s.Delay(20))
}

// Ignoring jitter, the exponential delay must never decrease between
// consecutive attempts and must stay bounded by Max.
func TestExponential_Monotonic(t *testing.T) {
	s := &Exponential{Initial: 500 * time.Millisecond, Multiplier: 2, Max: time.Minute}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 30; attempt++ {
		d := s.Delay(attempt)
		assert.GreaterOrEqual(t, d, prev, "delay decreased at attempt %d", attempt)
		assert.LessOrEqual(t, d, time.Minute)
		prev = d
	}
}

func TestJitter_Bounds(t *testing.T) {
	s := &Fixed{Interval: 10 * time.Second, Jitter: true}

	for i := 0; i < 100; i++ {
		d := s.Delay(1)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 12*time.Second)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		want    any
	}{
		{
			name: "fixed",
			cfg:  Config{Strategy: "fixed", Initial: time.Second},
			want: &Fixed{},
		},
		{
			name: "linear",
			cfg:  Config{Strategy: "linear", Initial: time.Second, Increment: time.Second},
			want: &Linear{},
		},
		{
			name: "exponential",
			cfg:  Config{Strategy: "exponential", Initial: time.Second, Multiplier: 2},
			want: &Exponential{},
		},
		{
			name: "empty defaults to exponential",
			cfg:  Config{},
			want: &Exponential{},
		},
		{
			name:    "unknown strategy",
			cfg:     Config{Strategy: "fibonacci"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)

			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, s)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, s)
		})
	}
}

func TestLinear_DefaultIncrement(t *testing.T) {
	s, err := New(Config{Strategy: "linear", Initial: 2 * time.Second})
	require.NoError(t, err)

	// Increment defaults to Initial when unset.
	assert.Equal(t, 2*time.Second, s.Delay(1))
	assert.Equal(t, 4*time.Second, s.Delay(2))
}
