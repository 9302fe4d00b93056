package ring_test

import (
	"sync"
	"testing"
	"time"

	"github.com/momentics/vrend/core/ring"
)

func TestAttachDetach(t *testing.T) {
	s := ring.NewSet()
	r := ring.NewRing(1)
	if err := s.Attach(r); err != nil {
		t.Fatal(err)
	}
	if err := s.Attach(r); err != ring.ErrAlreadyAttached {
		t.Fatalf("err = %v, want ErrAlreadyAttached", err)
	}
	if err := s.Detach(1); err != nil {
		t.Fatal(err)
	}
	if err := s.Detach(1); err != ring.ErrUnknownRing {
		t.Fatalf("err = %v, want ErrUnknownRing", err)
	}
}

func TestWaitForSeqnoWakesOnMatchingUpdate(t *testing.T) {
	s := ring.NewSet()
	r := ring.NewRing(1)
	s.Attach(r)

	var wg sync.WaitGroup
	wg.Add(1)
	waitErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		waitErr <- s.WaitForSeqno(1, 100)
	}()

	time.Sleep(20 * time.Millisecond)
	s.OnHeadUpdate(1, 50) // below target: must not wake with a satisfied wait
	time.Sleep(20 * time.Millisecond)
	s.OnHeadUpdate(1, 100) // at target: must wake

	wg.Wait()
	if err := <-waitErr; err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
}

func TestOnlyOneWaitAtATime(t *testing.T) {
	s := ring.NewSet()
	r := ring.NewRing(1)
	s.Attach(r)
	defer s.Shutdown() // release the parked waiter below

	started := make(chan struct{})
	go func() {
		close(started)
		s.WaitForSeqno(1, 1<<40) // never satisfied in this test
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	if err := s.WaitForSeqno(1, 1); err != ring.ErrWaitAlreadyActive {
		t.Fatalf("err = %v, want ErrWaitAlreadyActive", err)
	}
}

func TestWaitForSeqnoUnknownRing(t *testing.T) {
	s := ring.NewSet()
	if err := s.WaitForSeqno(99, 1); err != ring.ErrUnknownRing {
		t.Fatalf("err = %v, want ErrUnknownRing", err)
	}
}

func TestShutdownAbortsBlockedWaiter(t *testing.T) {
	s := ring.NewSet()
	s.Attach(ring.NewRing(1))

	waitErr := make(chan error, 1)
	go func() { waitErr <- s.WaitForSeqno(1, 1000) }()
	time.Sleep(10 * time.Millisecond)

	s.Shutdown()

	select {
	case err := <-waitErr:
		if err != ring.ErrSetClosed {
			t.Fatalf("wait returned %v, want ErrSetClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke after Shutdown")
	}

	// The set stays closed: further waits and attaches fail immediately.
	if err := s.WaitForSeqno(1, 1); err != ring.ErrSetClosed {
		t.Fatalf("wait after shutdown = %v, want ErrSetClosed", err)
	}
	if err := s.Attach(ring.NewRing(2)); err != ring.ErrSetClosed {
		t.Fatalf("attach after shutdown = %v, want ErrSetClosed", err)
	}
}

func TestWaitForSeqnoWraparoundSafe(t *testing.T) {
	s := ring.NewSet()
	r := ring.NewRing(1)
	s.Attach(r)
	s.OnHeadUpdate(1, 1<<32-5) // near wraparound

	waitErr := make(chan error, 1)
	go func() { waitErr <- s.WaitForSeqno(1, 1<<32-5) }()

	select {
	case err := <-waitErr:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait should have been satisfied immediately by the already-current head")
	}
}
