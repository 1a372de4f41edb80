package iox

import (
	"errors"
	"testing"
)

type spyCloser struct {
	closed bool
	order  *[]string
	name   string
	err    error
}

func (s *spyCloser) Close() error {
	s.closed = true
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	return s.err
}

func TestDiscardClose(t *testing.T) {
	s := &spyCloser{err: errors.New("ignored")}
	DiscardClose(s)
	if !s.closed {
		t.Fatal("Close was not called")
	}
	DiscardClose(nil)
}

func TestCloseFunc(t *testing.T) {
	s := &spyCloser{}
	fn := CloseFunc(s)
	if s.closed {
		t.Fatal("Close called before invoking returned func")
	}
	fn()
	if !s.closed {
		t.Fatal("Close was not called")
	}
}

func TestCloseAll_ReverseOrderAndJoin(t *testing.T) {
	var order []string
	errA := errors.New("a failed")
	errC := errors.New("c failed")
	a := &spyCloser{name: "a", order: &order, err: errA}
	b := &spyCloser{name: "b", order: &order}
	c := &spyCloser{name: "c", order: &order, err: errC}

	err := CloseAll(a, nil, b, c)
	if !errors.Is(err, errA) || !errors.Is(err, errC) {
		t.Errorf("err = %v, want both failures joined", err)
	}
	want := []string{"c", "b", "a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestCloseAll_NoErrors(t *testing.T) {
	if err := CloseAll(&spyCloser{}, Func(func() error { return nil })); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}
