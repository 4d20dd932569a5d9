package indicators

import "testing"

func TestSMA(t *testing.T) {
	cases := []struct {
		name   string
		prices []float64
		period int
		want   []float64
	}{
		{"basic", []float64{1, 2, 3, 4, 5}, 3, []float64{2, 3, 4}},
		{"too short", []float64{1, 2}, 3, nil},
		{"exact", []float64{1, 2, 3}, 3, []float64{2}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SMA(tc.prices, tc.period)
			if len(got) != len(tc.want) {
				t.Fatalf("SMA(%v,%d) = %v, want %v", tc.prices, tc.period, got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("index %d: got %v want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestEMALength(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = float64(100 + i)
	}
	got := EMA(prices, 9)
	want := len(prices) - 9 + 1
	if len(got) != want {
		t.Fatalf("EMA length = %d, want %d", len(got), want)
	}
}

func TestRSIBounds(t *testing.T) {
	prices := []float64{100, 102, 101, 103, 105, 104, 106, 108, 107, 109, 110, 112, 111, 113, 115}
	got := RSI(prices, 14)
	if len(got) != len(prices)-14 {
		t.Fatalf("RSI length = %d, want %d", len(got), len(prices)-14)
	}
	for _, v := range got {
		if v < 0 || v > 100 {
			t.Errorf("RSI value %v out of [0,100]", v)
		}
	}
}

func TestDetectEMACrossover(t *testing.T) {
	cases := []struct {
		name string
		fast []float64
		slow []float64
		want CrossoverDirection
	}{
		{"bullish", []float64{9, 11}, []float64{10, 10}, CrossoverBullish},
		{"bearish", []float64{11, 9}, []float64{10, 10}, CrossoverBearish},
		{"none", []float64{11, 12}, []float64{10, 10}, CrossoverNone},
		{"too short", []float64{1}, []float64{1}, CrossoverNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DetectEMACrossover(tc.fast, tc.slow)
			if got != tc.want {
				t.Errorf("got %v want %v", got, tc.want)
			}
		})
	}
}
