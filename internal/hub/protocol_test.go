package hub

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		raw     string
		wantOK  bool
		verb    string
		topic   string
	}{
		{"subscribe:ticks", true, "subscribe", "ticks"},
		{"subscribe:portfolio", true, "subscribe", "portfolio"},
		{"request:strategies", true, "request", "strategies"},
		{"request:ticks", false, "", ""},
		{"subscribe:bogus", false, "", ""},
		{"garbage", false, "", ""},
		{"", false, "", ""},
	}
	for _, c := range cases {
		cmd, ok := parseCommand(c.raw)
		if ok != c.wantOK {
			t.Errorf("parseCommand(%q) ok=%v, want %v", c.raw, ok, c.wantOK)
			continue
		}
		if ok && (cmd.verb != c.verb || cmd.topic != c.topic) {
			t.Errorf("parseCommand(%q) = %+v, want verb=%s topic=%s", c.raw, cmd, c.verb, c.topic)
		}
	}
}
