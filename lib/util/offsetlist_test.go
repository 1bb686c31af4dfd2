package util

import (
	"testing"
)

func collect[T any](l *OffsetList[T]) []T {
	var out []T
	for _, item := range l.All() {
		out = append(out, item)
	}
	return out
}

func equal[T comparable](a, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestOffsetListWrapsAround(t *testing.T) {
	l := NewOffsetList("a", "b", "c", "d")

	tests := []struct {
		offset int
		want   []string
	}{
		{0, []string{"a", "b", "c", "d"}},
		{1, []string{"b", "c", "d", "a"}},
		{3, []string{"d", "a", "b", "c"}},
		{4, []string{"a", "b", "c", "d"}},
		{9, []string{"b", "c", "d", "a"}},
		{-1, []string{"d", "a", "b", "c"}},
	}

	for _, tt := range tests {
		l.SetOffset(tt.offset)
		if got := collect(l); !equal(got, tt.want) {
			t.Errorf("offset %d: expected %v, got %v", tt.offset, tt.want, got)
		}
		for i, want := range tt.want {
			if got := l.At(i); got != want {
				t.Errorf("offset %d: At(%d) expected %s, got %s", tt.offset, i, want, got)
			}
		}
	}
}

func TestOffsetListEarlyBreak(t *testing.T) {
	l := NewOffsetList(1, 2, 3)
	l.SetOffset(2)

	var seen []int
	for i, v := range l.All() {
		seen = append(seen, v)
		if i == 1 {
			break
		}
	}
	if !equal(seen, []int{3, 1}) {
		t.Errorf("expected [3 1], got %v", seen)
	}
}

func TestOffsetListRemove(t *testing.T) {
	l := NewOffsetList("a", "b", "c")
	l.SetOffset(2)

	if n := l.RemoveFunc(func(s string) bool { return s == "b" }); n != 1 {
		t.Fatalf("expected 1 removed element, got %d", n)
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 elements, got %d", l.Len())
	}
	if l.Offset() != 0 {
		t.Errorf("expected offset to wrap to 0, got %d", l.Offset())
	}
	if got := collect(l); !equal(got, []string{"a", "c"}) {
		t.Errorf("expected [a c], got %v", got)
	}

	l.RemoveFunc(func(string) bool { return true })
	l.SetOffset(5)
	if got := collect(l); len(got) != 0 {
		t.Errorf("expected empty iteration, got %v", got)
	}
}
