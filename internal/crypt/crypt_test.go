package crypt

import (
	"bytes"
	"testing"
)

func testSession(t *testing.T) *Session {
	t.Helper()
	key := make([]byte, KeySize())
	for i := range key {
		key[i] = byte(i)
	}
	s, err := NewSession(key)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

func TestSealOpenRoundTrip(t *testing.T) {
	s := testSession(t)
	plaintext := []byte("opus frame payload")

	counter, ct := s.Seal(plaintext)
	if counter != 0 {
		t.Fatalf("first Seal counter = %d, want 0", counter)
	}

	got, err := s.Open(counter, ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open returned %q, want %q", got, plaintext)
	}
}

func TestSealCountersAreSequential(t *testing.T) {
	s := testSession(t)
	for i := uint64(0); i < 5; i++ {
		counter, _ := s.Seal([]byte("x"))
		if counter != i {
			t.Errorf("Seal #%d counter = %d, want %d", i, counter, i)
		}
	}
}

func TestOpenRejectsAuthFailure(t *testing.T) {
	s := testSession(t)
	_, ct := s.Seal([]byte("hello"))
	ct[len(ct)-1] ^= 0xFF // flip a tag byte

	if _, err := s.Open(0, ct); err != ErrAuth {
		t.Errorf("Open with tampered ciphertext: got %v, want ErrAuth", err)
	}
}

func TestOpenFirstPacketPrimesWindow(t *testing.T) {
	s := testSession(t)
	// Voice can legitimately start on a nonzero counter (e.g. reconnect), so
	// the first successful Open must prime the window at whatever counter it
	// sees rather than assuming 0.
	sender := testSession(t)
	sender.sendCtr = 50
	counter, ct := sender.Seal([]byte("first"))

	if _, err := s.Open(counter, ct); err != nil {
		t.Fatalf("Open of first packet at counter %d: %v", counter, err)
	}
	if !s.primed {
		t.Fatal("expected session to be primed after first successful Open")
	}
	if s.recvHi != counter {
		t.Errorf("recvHi = %d, want %d", s.recvHi, counter)
	}
}

func TestOpenRejectsExactReplay(t *testing.T) {
	s := testSession(t)
	counter, ct := s.Seal([]byte("once"))
	if _, err := s.Open(counter, ct); err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := s.Open(counter, ct); err != ErrReplay {
		t.Errorf("replayed Open: got %v, want ErrReplay", err)
	}
}

func TestOpenAcceptsOutOfOrderWithinWindow(t *testing.T) {
	sender := testSession(t)
	receiver := testSession(t)

	var cts [][]byte
	for i := 0; i < 3; i++ {
		_, ct := sender.Seal([]byte{byte(i)})
		cts = append(cts, ct)
	}

	// Deliver packet 2 before packet 1; both are within the replay window of
	// the highest counter seen so far and must still decrypt.
	if _, err := receiver.Open(2, cts[2]); err != nil {
		t.Fatalf("Open(2): %v", err)
	}
	if _, err := receiver.Open(1, cts[1]); err != nil {
		t.Fatalf("Open(1) out of order: %v", err)
	}
}

func TestOpenRejectsReplayAfterOutOfOrderDelivery(t *testing.T) {
	sender := testSession(t)
	receiver := testSession(t)

	var cts [][]byte
	for i := 0; i < 3; i++ {
		_, ct := sender.Seal([]byte{byte(i)})
		cts = append(cts, ct)
	}

	receiver.Open(2, cts[2])
	receiver.Open(1, cts[1])

	if _, err := receiver.Open(1, cts[1]); err != ErrReplay {
		t.Errorf("second Open(1): got %v, want ErrReplay", err)
	}
}

func TestOpenRejectsCounterBelowWindow(t *testing.T) {
	s := testSession(t)
	s.primed = true
	s.recvHi = WindowSize + 10
	s.recvSeen = 1

	// counter + WindowSize <= recvHi means it trails too far behind the
	// highest counter seen to still be in the sliding window.
	if _, err := s.Open(9, []byte("whatever")); err != ErrReplay {
		t.Errorf("Open far below window: got %v, want ErrReplay", err)
	}
}

func TestOpenAdvancesWindowOnNewHighCounter(t *testing.T) {
	sender := testSession(t)
	receiver := testSession(t)

	_, ct0 := sender.Seal([]byte("a"))
	receiver.Open(0, ct0)

	_, ct1 := sender.Seal([]byte("b"))
	if _, err := receiver.Open(1, ct1); err != nil {
		t.Fatalf("Open(1): %v", err)
	}
	if receiver.recvHi != 1 {
		t.Errorf("recvHi = %d, want 1", receiver.recvHi)
	}

	// The old high counter (0) must still be retained in the shifted window
	// and rejected as a replay, not silently accepted as "new".
	if _, err := receiver.Open(0, ct0); err != ErrReplay {
		t.Errorf("replay of superseded counter: got %v, want ErrReplay", err)
	}
}

func TestOpenHandlesLargeForwardJump(t *testing.T) {
	sender := testSession(t)
	receiver := testSession(t)

	// Prime the receiver's window at counter 0 so the jump below shifts an
	// existing window instead of taking the first-packet priming path.
	_, ct0 := sender.Seal([]byte("first"))
	if _, err := receiver.Open(0, ct0); err != nil {
		t.Fatalf("Open(0): %v", err)
	}

	sender.sendCtr = 1000
	counter, ct := sender.Seal([]byte("jump"))
	if _, err := receiver.Open(counter, ct); err != nil {
		t.Fatalf("Open after large jump: %v", err)
	}
	if receiver.recvHi != counter {
		t.Errorf("recvHi = %d, want %d", receiver.recvHi, counter)
	}
	if receiver.recvSeen != 1 {
		t.Errorf("recvSeen after jump >= window = %#x, want 1", receiver.recvSeen)
	}
}
