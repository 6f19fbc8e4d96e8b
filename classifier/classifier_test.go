package classifier

import (
	"reflect"
	"testing"
)

func TestIsValidCookieScope(t *testing.T) {
	cases := []struct {
		label string
		want  bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"::1", true},
		{"com", false},
		{"co.uk", false},
		{"example.com", true},
		{"example.co.uk", true},
		{"intranet", true},
		{"server01", true},
	}
	for _, c := range cases {
		if got := IsValidCookieScope(c.label); got != c.want {
			t.Errorf("IsValidCookieScope(%q) = %v, want %v", c.label, got, c.want)
		}
	}
}

func TestParentDomainWalkStopsAtTLD(t *testing.T) {
	got := ParentDomainWalk("a.b.example.co.uk")
	want := []string{"a.b.example.co.uk", "b.example.co.uk", "example.co.uk"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParentDomainWalk = %v, want %v", got, want)
	}
}

func TestParentDomainWalkLocalhost(t *testing.T) {
	got := ParentDomainWalk("localhost")
	want := []string{"localhost"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParentDomainWalk(localhost) = %v, want %v", got, want)
	}
}
