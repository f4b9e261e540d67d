package synctrigger

import "testing"

func TestRegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	if !r.Register(TagSyncQueue) {
		t.Fatal("First registration reported as duplicate")
	}
	if r.Register(TagSyncQueue) {
		t.Fatal("Second registration reported as new")
	}
	if !r.Pending(TagSyncQueue) {
		t.Fatal("Tag not pending after registration")
	}
}

func TestFireIsOneShot(t *testing.T) {
	r := NewRegistry()
	r.Register(TagSyncQueue)
	if !r.Fire(TagSyncQueue) {
		t.Fatal("Pending tag did not fire")
	}
	if r.Fire(TagSyncQueue) {
		t.Fatal("Tag fired twice for one registration")
	}
	select {
	case tag := <-r.Fired():
		if tag != TagSyncQueue {
			t.Fatalf("Fired tag is %s", tag)
		}
	default:
		t.Fatal("Nothing on fired channel")
	}
}

func TestFireAllClearsPending(t *testing.T) {
	r := NewRegistry()
	r.Register("a")
	r.Register("b")
	fired := r.FireAll()
	if len(fired) != 2 {
		t.Fatalf("Fired %d tags", len(fired))
	}
	if r.Pending("a") || r.Pending("b") {
		t.Fatal("Tags still pending after FireAll")
	}
}
