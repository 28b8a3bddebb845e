package resource

import (
	"errors"
	"sync"
	"testing"

	"github.com/convoy-engine/convoy/pkg/models"
)

func TestClaimAndRelease(t *testing.T) {
	m := NewManager([]Spec{{Name: "gpu", Capacity: 4}})

	if err := m.Claim("t1", []models.ResourceRequest{{Name: "gpu", Units: 3}}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if avail := m.Availability("gpu"); avail != 1 {
		t.Errorf("expected 1 available, got %d", avail)
	}

	m.Release("t1")
	if avail := m.Availability("gpu"); avail != 4 {
		t.Errorf("expected full capacity after release, got %d", avail)
	}
}

func TestClaimAllOrNothing(t *testing.T) {
	m := NewManager([]Spec{
		{Name: "gpu", Capacity: 2},
		{Name: "licenses", Capacity: 1},
	})
	if err := m.Claim("t1", []models.ResourceRequest{{Name: "licenses", Units: 1}}); err != nil {
		t.Fatalf("claim t1: %v", err)
	}

	// Second request fits on gpu but not licenses; neither may be held.
	err := m.Claim("t2", []models.ResourceRequest{
		{Name: "gpu", Units: 1},
		{Name: "licenses", Units: 1},
	})
	if !errors.Is(err, ErrInsufficientResource) {
		t.Fatalf("expected ErrInsufficientResource, got %v", err)
	}
	if avail := m.Availability("gpu"); avail != 2 {
		t.Errorf("partial claim leaked: gpu availability %d", avail)
	}
}

func TestClaimUnknownResource(t *testing.T) {
	m := NewManager(nil)
	err := m.Claim("t1", []models.ResourceRequest{{Name: "missing", Units: 1}})
	if !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("expected ErrUnknownResource, got %v", err)
	}
}

func TestExclusiveClaimBlocksOthers(t *testing.T) {
	m := NewManager([]Spec{{Name: "db", Capacity: 10}})

	if err := m.Claim("t1", []models.ResourceRequest{{Name: "db", Exclusive: true}}); err != nil {
		t.Fatalf("exclusive claim: %v", err)
	}
	if avail := m.Availability("db"); avail != 0 {
		t.Errorf("exclusive claim should take all capacity, %d left", avail)
	}

	err := m.Claim("t2", []models.ResourceRequest{{Name: "db", Units: 1}})
	if !errors.Is(err, ErrInsufficientResource) {
		t.Fatalf("expected ErrInsufficientResource, got %v", err)
	}

	m.Release("t1")
	if err := m.Claim("t2", []models.ResourceRequest{{Name: "db", Units: 1}}); err != nil {
		t.Fatalf("claim after exclusive release: %v", err)
	}
}

func TestExclusiveRejectedWhileShared(t *testing.T) {
	m := NewManager([]Spec{{Name: "db", Capacity: 10}})
	if err := m.Claim("t1", []models.ResourceRequest{{Name: "db", Units: 1}}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	err := m.Claim("t2", []models.ResourceRequest{{Name: "db", Exclusive: true}})
	if !errors.Is(err, ErrInsufficientResource) {
		t.Fatalf("expected ErrInsufficientResource, got %v", err)
	}
}

func TestConcurrentClaimsNeverExceedCapacity(t *testing.T) {
	const capacity = 10
	m := NewManager([]Spec{{Name: "slots", Capacity: capacity}})

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a'+n%26)) + "-" + string(rune('0'+n/26))
			if err := m.Claim(id, []models.ResourceRequest{{Name: "slots", Units: 1}}); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if granted > capacity {
		t.Fatalf("granted %d claims against capacity %d", granted, capacity)
	}
	if avail := m.Availability("slots"); avail != capacity-int64(granted) {
		t.Errorf("availability %d inconsistent with %d grants", avail, granted)
	}
}

func TestCanSatisfy(t *testing.T) {
	m := NewManager([]Spec{{Name: "gpu", Capacity: 2}})
	m.Claim("t1", []models.ResourceRequest{{Name: "gpu", Units: 2}})

	if m.CanSatisfy("t2", []models.ResourceRequest{{Name: "gpu", Units: 1}}) {
		t.Error("CanSatisfy should be false at zero availability")
	}
	if avail := m.Availability("gpu"); avail != 0 {
		t.Errorf("CanSatisfy must not claim, availability %d", avail)
	}
}

func TestClaimAggregatesRepeatedNames(t *testing.T) {
	m := NewManager([]Spec{{Name: "gpu", Capacity: 10}})

	// Two requests for the same resource must be checked as their sum.
	err := m.Claim("t1", []models.ResourceRequest{
		{Name: "gpu", Units: 6},
		{Name: "gpu", Units: 6},
	})
	if !errors.Is(err, ErrInsufficientResource) {
		t.Fatalf("expected ErrInsufficientResource, got %v", err)
	}
	if avail := m.Availability("gpu"); avail != 10 {
		t.Errorf("rejected claim leaked: availability %d", avail)
	}

	if m.CanSatisfy("t1", []models.ResourceRequest{
		{Name: "gpu", Units: 6},
		{Name: "gpu", Units: 6},
	}) {
		t.Error("CanSatisfy accepted requests summing past capacity")
	}

	// The same list within capacity accumulates into one claim.
	if err := m.Claim("t1", []models.ResourceRequest{
		{Name: "gpu", Units: 4},
		{Name: "gpu", Units: 4},
	}); err != nil {
		t.Fatalf("claim within capacity: %v", err)
	}
	if avail := m.Availability("gpu"); avail != 2 {
		t.Errorf("expected 2 available, got %d", avail)
	}
	m.Release("t1")
	if avail := m.Availability("gpu"); avail != 10 {
		t.Errorf("expected full capacity after release, got %d", avail)
	}
}
