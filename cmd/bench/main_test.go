package main

import "testing"

func TestCheckWorkload(t *testing.T) {
	t.Parallel()

	cases := []struct {
		lines, rows int
		ok          bool
	}{
		{lines: 1, rows: 0, ok: true},
		{lines: 500, rows: 200, ok: true},
		{lines: 0, rows: 200, ok: false},
		{lines: -3, rows: 200, ok: false},
		{lines: 10, rows: -1, ok: false},
	}
	for _, tc := range cases {
		err := checkWorkload(tc.lines, tc.rows)
		if (err == nil) != tc.ok {
			t.Errorf("checkWorkload(%d, %d) = %v, want ok=%v", tc.lines, tc.rows, err, tc.ok)
		}
	}
}
