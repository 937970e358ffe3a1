package httpmetrics

import "testing"

func TestNormalizePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"/", "/"},
		{"/signals", "/signals"},
		{"/fusion/assess", "/fusion/assess"},
		{"/fusion/assessments/user-123", "/fusion/assessments/:rest"},
		{"/incidents/user-123/extra/segments", "/incidents/user-123/:rest"},
	}
	for _, tc := range cases {
		if got := normalizePath(tc.in); got != tc.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
