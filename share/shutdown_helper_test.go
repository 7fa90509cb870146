package simshare

import (
	"errors"
	"testing"
	"time"
)

type testShutdowner struct {
	ShutdownHelper
	calls int
}

func newTestShutdowner() *testShutdowner {
	s := &testShutdowner{}
	s.InitShutdownHelper(NewLogger("test", LogLevelError), s)
	return s
}

func (s *testShutdowner) HandleOnceShutdown(completionErr error) error {
	s.calls++
	return completionErr
}

func TestShutdownFirstErrorWins(t *testing.T) {
	s := newTestShutdowner()
	first := errors.New("inbound failed")
	s.StartShutdown(first)
	s.StartShutdown(errors.New("outbound cancelled"))
	if err := s.WaitShutdown(); err != first {
		t.Errorf("WaitShutdown() = %v; expected %v", err, first)
	}
	if s.calls != 1 {
		t.Errorf("HandleOnceShutdown called %d times", s.calls)
	}
}

func TestShutdownWaitsForChildren(t *testing.T) {
	parent := newTestShutdowner()
	child := newTestShutdowner()
	parent.AddShutdownChild(child)
	done := make(chan struct{})
	parent.AddShutdownChildChan(done)

	parent.StartShutdown(nil)
	select {
	case <-parent.ShutdownDoneChan():
		t.Fatalf("parent finished before child chan closed")
	case <-time.After(20 * time.Millisecond):
	}
	close(done)
	parent.WaitShutdown()
	if !child.IsDoneShutdown() {
		t.Errorf("child not shut down with parent")
	}
}

func TestPauseShutdownDefersStart(t *testing.T) {
	s := newTestShutdowner()
	if err := s.PauseShutdown(); err != nil {
		t.Fatalf("PauseShutdown failed: %s", err)
	}
	s.StartShutdown(nil)
	if s.IsStartedShutdown() {
		t.Errorf("shutdown started while paused")
	}
	s.ResumeShutdown()
	s.WaitShutdown()
	if err := s.PauseShutdown(); err == nil {
		t.Errorf("PauseShutdown succeeded after shutdown")
	}
}

func TestDoOnceActivateFailureShutsDown(t *testing.T) {
	s := newTestShutdowner()
	failure := errors.New("bind failed")
	err := s.DoOnceActivate(func() error { return failure }, true)
	if err != failure {
		t.Errorf("DoOnceActivate() = %v; expected %v", err, failure)
	}
	if !s.IsDoneShutdown() || s.IsActivated() {
		t.Errorf("failed activation left object running")
	}
}
