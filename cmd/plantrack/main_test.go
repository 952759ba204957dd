package main

import "testing"

func TestCommandFromArgs(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{nil, "serve"},
		{[]string{}, "serve"},
		{[]string{"serve"}, "serve"},
		{[]string{"MIGRATE"}, "migrate"},
		{[]string{" status "}, "status"},
		{[]string{"--help"}, "help"},
		{[]string{"bogus"}, "unknown"},
	}
	for _, tc := range cases {
		if got := commandFromArgs(tc.args); got != tc.want {
			t.Errorf("commandFromArgs(%v) = %q, want %q", tc.args, got, tc.want)
		}
	}
}
