package core

import "testing"

func TestProgressLifecycle(t *testing.T) {
	r := NewProgressRegistry()
	r.Start("save.bin", "req.bin", 3)

	dp, ok := r.Get("save.bin")
	if !ok {
		t.Fatal("entry missing after Start")
	}
	if dp.RequestName != "req.bin" || dp.TotalChunks != 3 || dp.CompletedChunks != 0 || dp.Finished {
		t.Fatalf("fresh entry = %+v", dp)
	}

	var last int64
	for i := 0; i < 3; i++ {
		completed, finished := r.Complete("save.bin")
		if completed <= last {
			t.Fatalf("completed count not monotonic: %d after %d", completed, last)
		}
		last = completed
		wantFinished := i == 2
		if finished != wantFinished {
			t.Fatalf("after %d completions finished = %v", i+1, finished)
		}
	}

	dp, _ = r.Get("save.bin")
	if !dp.Finished || dp.CompletedChunks != dp.TotalChunks {
		t.Fatalf("final entry = %+v", dp)
	}
}

func TestProgressCompleteUnknown(t *testing.T) {
	r := NewProgressRegistry()
	if completed, finished := r.Complete("nope"); completed != 0 || finished {
		t.Fatalf("Complete on unknown entry = (%d, %v)", completed, finished)
	}
}

func TestProgressSnapshotIsCopy(t *testing.T) {
	r := NewProgressRegistry()
	r.Start("a", "a", 10)

	snap := r.Snapshot()
	entry := snap["a"]
	entry.CompletedChunks = 99
	snap["a"] = entry

	dp, _ := r.Get("a")
	if dp.CompletedChunks != 0 {
		t.Fatal("mutating a snapshot leaked into the registry")
	}
}

func TestProgressRemove(t *testing.T) {
	r := NewProgressRegistry()
	r.Start("a", "a", 1)
	r.Remove("a")
	if _, ok := r.Get("a"); ok {
		t.Fatal("entry survived Remove")
	}
}
