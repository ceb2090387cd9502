package wire

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestIDGeneratorUniqueUnderConcurrency(t *testing.T) {
	g := NewIDGenerator()
	frozen := time.UnixMilli(1700000000000)
	g.now = func() time.Time { return frozen }

	const workers, perWorker = 8, 500
	var mu sync.Mutex
	seen := make(map[string]bool, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := g.Next()
				mu.Lock()
				if seen[id] {
					mu.Unlock()
					t.Errorf("duplicate id %q", id)
					return
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*perWorker {
		t.Fatalf("len(seen) = %d; want %d", len(seen), workers*perWorker)
	}
}

func TestIDGeneratorFormat(t *testing.T) {
	g := NewIDGenerator()
	g.now = func() time.Time { return time.UnixMilli(42) }
	if got := g.Next(); got != "42-1" {
		t.Fatalf("Next() = %q; want %q", got, "42-1")
	}
	if got := g.Next(); got != "42-2" {
		t.Fatalf("Next() = %q; want %q", got, "42-2")
	}
}

func TestNewRequestOmitsNilParams(t *testing.T) {
	req, err := NewRequest("1-1", MethodGetTitle, nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if strings.Contains(string(data), "params") {
		t.Fatalf("request %s should omit params", data)
	}
	if req.Target != Target {
		t.Fatalf("Target = %q; want %q", req.Target, Target)
	}
}

func TestReplyDecode(t *testing.T) {
	r := OK("7-1", "Example")
	var title string
	if err := r.Decode(&title); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if title != "Example" {
		t.Fatalf("Decode() = %q; want %q", title, "Example")
	}

	var missing *DialogState
	if err := (Reply{ID: "7-2"}).Decode(&missing); err != nil {
		t.Fatalf("Decode(empty) error = %v", err)
	}
	if missing != nil {
		t.Fatalf("Decode(empty) = %+v; want nil", missing)
	}
}

func TestFailNeverEmpty(t *testing.T) {
	r := Fail("9-1", "")
	if !r.Failed() {
		t.Fatalf("Fail(\"\").Failed() = false; want true")
	}
}
