package fincrypto

import "testing"

func TestDeriveWeightZeroInputs(t *testing.T) {
	cases := []struct {
		name                     string
		stake, totalWeight       uint64
		expectedSize             float64
	}{
		{"zero stake", 0, 100, 10},
		{"zero total weight", 10, 0, 10},
		{"zero expected size", 10, 100, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := make([]byte, 32)
			for i := range out {
				out[i] = 0xff
			}
			if got := DeriveWeight(c.stake, c.totalWeight, c.expectedSize, out); got != 0 {
				t.Errorf("DeriveWeight() = %d, want 0", got)
			}
		})
	}
}

func TestDeriveWeightMonotoneInVRFOutput(t *testing.T) {
	stake := uint64(1000)
	totalWeight := uint64(10000)
	expectedSize := 100.0

	low := make([]byte, 32)
	high := make([]byte, 32)
	for i := range high {
		high[i] = 0xff
	}

	wLow := DeriveWeight(stake, totalWeight, expectedSize, low)
	wHigh := DeriveWeight(stake, totalWeight, expectedSize, high)

	if wHigh < wLow {
		t.Errorf("expected weight to be monotone in the VRF output ratio: low=%d high=%d", wLow, wHigh)
	}
}

func TestDeriveWeightNeverExceedsStake(t *testing.T) {
	out := make([]byte, 32)
	for i := range out {
		out[i] = 0xff
	}
	got := DeriveWeight(5, 10, 8, out)
	if got > 5 {
		t.Errorf("DeriveWeight() = %d, must not exceed stake 5", got)
	}
}

func TestDeriveWeightDeterministic(t *testing.T) {
	out := []byte{0x4a, 0x9f, 0x11, 0x00}
	a := DeriveWeight(50, 1000, 30, out)
	b := DeriveWeight(50, 1000, 30, out)
	if a != b {
		t.Errorf("DeriveWeight should be a pure function of its inputs: got %d and %d", a, b)
	}
}
