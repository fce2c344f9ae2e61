package stage1

import "testing"

func TestStripFakeImages_RemovesPlaceholderHosts(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"via.placeholder.com", "before ![alt](https://via.placeholder.com/150) after", "before  after"},
		{"placeholder subdomain", "x ![img](http://placeholder.example/1.png) y", "x  y"},
		{"example.com", "a ![](https://example.com/a.png) b", "a  b"},
		{"real url untouched", "see ![chart](https://cdn.real.io/chart.png) here", "see ![chart](https://cdn.real.io/chart.png) here"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StripFakeImages(tc.in)
			if got != tc.want {
				t.Errorf("StripFakeImages(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestStripFakeImages_CollapsesExcessNewlines(t *testing.T) {
	got := StripFakeImages("line one\n\n\n\nline two")
	want := "line one\n\nline two"
	if got != want {
		t.Errorf("got %q want %q", got, want)
	}
}
