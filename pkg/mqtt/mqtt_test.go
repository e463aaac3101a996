package mqtt

import (
	"os"
	"testing"
	"time"

	"github.com/womat/debug"
)

func TestMain(m *testing.M) {
	debug.SetDebug(os.Stderr, debug.Standard)
	os.Exit(m.Run())
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("edgecap/ID1", struct {
		Frequency float64 `json:"frequency"`
	}{Frequency: 50})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Topic != "edgecap/ID1" || !msg.Retained {
		t.Errorf("NewMessage() = %+v", msg)
	}
	if got, want := string(msg.Payload), `{"frequency":50}`; got != want {
		t.Errorf("payload = %s, want %s", got, want)
	}

	if _, err = NewMessage("t", make(chan int)); err == nil {
		t.Error("NewMessage() with unsupported type returned no error")
	}
}

func TestServiceWithoutBroker(t *testing.T) {
	m := New()
	if err := m.Connect("", "edgecap"); err != nil {
		t.Fatal(err)
	}
	if m.Connected() {
		t.Error("Connected() without broker")
	}

	done := make(chan struct{})
	go func() {
		m.Service()
		close(done)
	}()

	m.C <- Message{Topic: "edgecap/ID1", Payload: []byte("{}")}
	if err := m.Disconnect(); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Service() did not return after Disconnect()")
	}
}
