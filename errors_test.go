package aptcore

import (
	"errors"
	"testing"
)

func TestErrorStackPendingAndPop(t *testing.T) {
	var s ErrorStack
	if s.PendingError() {
		t.Error("fresh stack pending")
	}
	s.Warningf("just a warning")
	if s.PendingError() {
		t.Error("warning counted as error")
	}
	s.Errorf("broke: %d", 42)
	if !s.PendingError() {
		t.Error("error not pending")
	}
	e, ok := s.PopMessage()
	if !ok || e.Severity != SeverityWarning {
		t.Errorf("first pop = %+v, %v", e, ok)
	}
	e, ok = s.PopMessage()
	if !ok || e.Msg != "broke: 42" {
		t.Errorf("second pop = %+v, %v", e, ok)
	}
	if _, ok := s.PopMessage(); ok {
		t.Error("pop on empty stack succeeded")
	}
}

func TestErrorStackRevert(t *testing.T) {
	var s ErrorStack
	s.Errorf("kept")
	s.PushState()
	s.Errorf("first probe failed")
	s.RevertToStack()
	if got := len(s.cur); got != 1 {
		t.Fatalf("after revert %d entries", got)
	}
	if s.cur[0].Msg != "kept" {
		t.Errorf("revert lost the outer entry: %q", s.cur[0].Msg)
	}
}

func TestErrorStackMerge(t *testing.T) {
	var s ErrorStack
	s.Errorf("outer")
	s.PushState()
	s.Errorf("inner")
	s.MergeWithStack()
	if got := len(s.cur); got != 2 {
		t.Fatalf("after merge %d entries", got)
	}
	if s.cur[0].Msg != "outer" || s.cur[1].Msg != "inner" {
		t.Errorf("merge order wrong: %q, %q", s.cur[0].Msg, s.cur[1].Msg)
	}
}

func TestErrorStackErrnoUnwraps(t *testing.T) {
	var s ErrorStack
	inner := errors.New("ENOENT")
	s.Errno(inner, "open %s", "/nope")
	if err := s.Err(); !errors.Is(err, inner) {
		t.Errorf("Err() does not unwrap to the cause: %v", err)
	}
}
