package core

import "testing"

func TestWildcardMatcher(t *testing.T) {
	tests := map[string][]struct {
		pattern     string
		destination string
		want        bool
	}{
		"exact": {
			{"orders", "orders", true},
			{"orders", "orders-0", false},
			{"orders.created", "orders.created", true},
			{"orders.created", "orders", false},
		},
		"single level": {
			{"orders.*", "orders.created", true},
			{"orders.*", "orders.us.created", false},
			{"orders.*", "orders", false},
			{"*.created", "payments.created", true},
			{"*", "orders-3", true},
		},
		"multi level": {
			{"#", "a.b.c", true},
			{"orders.#", "orders.us.east.created", true},
			{"orders.#", "orders", false},
			{"orders.*.#", "orders.us.created", true},
		},
		"multi level in the middle": {
			{"orders.#.created", "orders.created", true},
			{"orders.#.created", "orders.us.east.created", true},
			{"orders.#.created", "orders.us.updated", false},
		},
	}

	m := WildcardMatcher{}
	for group, cases := range tests {
		t.Run(group, func(t *testing.T) {
			for _, tt := range cases {
				if got := m.Match(tt.pattern, tt.destination); got != tt.want {
					t.Errorf("Match(%q, %q) = %v, want %v", tt.pattern, tt.destination, got, tt.want)
				}
			}
		})
	}
}
