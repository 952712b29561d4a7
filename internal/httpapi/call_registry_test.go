package httpapi

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestCallRegistry_RegisterAndUnregister(t *testing.T) {
	cr := NewCallRegistry()

	if cr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", cr.ActiveCount())
	}

	a := &callSession{key: "A"}
	b := &callSession{key: "B"}

	if !cr.Register(a) {
		t.Error("Register() should return true when not draining")
	}
	if !cr.Register(b) {
		t.Error("Register() should return true when not draining")
	}
	if cr.ActiveCount() != 2 {
		t.Errorf("ActiveCount() = %d, want 2", cr.ActiveCount())
	}

	if got, ok := cr.Lookup("A"); !ok || got != a {
		t.Errorf("Lookup(A) = %v, %v", got, ok)
	}

	cr.Unregister(a)
	if _, ok := cr.Lookup("A"); ok {
		t.Error("Lookup(A) should fail after Unregister")
	}
	if cr.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1 after one Unregister()", cr.ActiveCount())
	}

	cr.Unregister(b)
	if cr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 after all Unregister()", cr.ActiveCount())
	}
}

func TestCallRegistry_ReconnectKeepsNewestSession(t *testing.T) {
	cr := NewCallRegistry()

	first := &callSession{key: "CALL"}
	second := &callSession{key: "CALL"}
	cr.Register(first)
	cr.Register(second)

	// The stale session leaving must not evict its replacement.
	cr.Unregister(first)
	if got, ok := cr.Lookup("CALL"); !ok || got != second {
		t.Errorf("Lookup(CALL) = %v, %v, want second session", got, ok)
	}

	cr.Unregister(second)
	cr.Wait()
}

func TestCallRegistry_Draining(t *testing.T) {
	cr := NewCallRegistry()

	if cr.IsDraining() {
		t.Error("IsDraining() should be false initially")
	}

	before := &callSession{key: "before"}
	if !cr.Register(before) {
		t.Error("Register() should succeed before draining")
	}

	cr.StartDraining()

	if !cr.IsDraining() {
		t.Error("IsDraining() should be true after StartDraining()")
	}

	if cr.Register(&callSession{key: "after"}) {
		t.Error("Register() should return false when draining")
	}

	if cr.ActiveCount() != 1 {
		t.Errorf("ActiveCount() = %d, want 1", cr.ActiveCount())
	}

	cr.Unregister(before)
	if cr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", cr.ActiveCount())
	}
}

func TestCallRegistry_WaitBlocksUntilDone(t *testing.T) {
	cr := NewCallRegistry()

	a := &callSession{key: "A"}
	b := &callSession{key: "B"}
	cr.Register(a)
	cr.Register(b)

	done := make(chan struct{})
	go func() {
		cr.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Error("Wait() should block while calls are active")
	default:
	}

	cr.Unregister(a)

	select {
	case <-done:
		t.Error("Wait() should block while calls are active")
	default:
	}

	cr.Unregister(b)
	<-done
}

func TestCallRegistry_DrainDuringConcurrentRegisters(t *testing.T) {
	cr := NewCallRegistry()
	const n = 100

	var wg sync.WaitGroup
	var accepted, rejected int64
	var mu sync.Mutex

	wg.Add(n)
	for i := 0; i < n; i++ {
		s := &callSession{key: fmt.Sprintf("call-%d", i)}
		go func() {
			defer wg.Done()
			if cr.Register(s) {
				mu.Lock()
				accepted++
				mu.Unlock()
				defer cr.Unregister(s)
			} else {
				mu.Lock()
				rejected++
				mu.Unlock()
			}
		}()

		if i == n/2 {
			cr.StartDraining()
		}
	}

	wg.Wait()

	if accepted+rejected != n {
		t.Errorf("accepted(%d) + rejected(%d) != %d", accepted, rejected, n)
	}
	if rejected == 0 {
		t.Error("expected some calls to be rejected after draining started")
	}
	if cr.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0", cr.ActiveCount())
	}
}

func TestReadyzEndpoint(t *testing.T) {
	cr := NewCallRegistry()
	r := &Router{
		logger: log.New(io.Discard, "", 0),
		calls:  cr,
	}

	t.Run("returns 200 when not draining", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		r.handleReadyz(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if body := rec.Body.String(); body != "ok" {
			t.Errorf("body = %q, want %q", body, "ok")
		}
	})

	t.Run("returns 503 when draining", func(t *testing.T) {
		cr.StartDraining()

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		rec := httptest.NewRecorder()
		r.handleReadyz(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
		}
		if body := rec.Body.String(); body != "draining" {
			t.Errorf("body = %q, want %q", body, "draining")
		}
	})
}

func TestSocketRejectsDuringDrain(t *testing.T) {
	cr := NewCallRegistry()
	cr.StartDraining()

	r := &Router{
		logger: log.New(io.Discard, "", 0),
		calls:  cr,
	}

	req := httptest.NewRequest(http.MethodGet, "/socket?original_uuid=abc", nil)
	rec := httptest.NewRecorder()
	r.handleSocket(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
