package policy

import (
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	p := Default()

	tests := []struct {
		name    string
		count   int
		want    time.Duration
		reduced bool
	}{
		{name: "empty road", count: 0, want: 30 * time.Second},
		{name: "light traffic", count: 7, want: 30 * time.Second},
		{name: "at threshold keeps default", count: 15, want: 30 * time.Second},
		{name: "one above threshold", count: 16, want: 20 * time.Second, reduced: true},
		{name: "heavy traffic", count: 120, want: 20 * time.Second, reduced: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Decide(tc.count)
			if d.Wait != tc.want {
				t.Errorf("Decide(%d).Wait = %v, want %v", tc.count, d.Wait, tc.want)
			}
			if d.Reduced != tc.reduced {
				t.Errorf("Decide(%d).Reduced = %v, want %v", tc.count, d.Reduced, tc.reduced)
			}
			if d.Count != tc.count {
				t.Errorf("Decide(%d).Count = %d", tc.count, d.Count)
			}
		})
	}
}

func TestDecideBoundaryForAnyThreshold(t *testing.T) {
	for threshold := 0; threshold <= 50; threshold++ {
		p := Policy{Threshold: threshold, DefaultWait: 45 * time.Second, ReducedWait: 10 * time.Second}

		for c := 0; c <= 60; c++ {
			d := p.Decide(c)
			wantReduced := c > threshold
			if d.Reduced != wantReduced {
				t.Fatalf("threshold %d, count %d: Reduced = %v, want %v", threshold, c, d.Reduced, wantReduced)
			}
			if wantReduced && d.Wait != p.ReducedWait {
				t.Fatalf("threshold %d, count %d: Wait = %v, want reduced", threshold, c, d.Wait)
			}
			if !wantReduced && d.Wait != p.DefaultWait {
				t.Fatalf("threshold %d, count %d: Wait = %v, want default", threshold, c, d.Wait)
			}
		}

		if p.Decide(threshold).Wait != p.DefaultWait {
			t.Errorf("threshold %d: equality must keep default wait", threshold)
		}
		if p.Decide(threshold+1).Wait != p.ReducedWait {
			t.Errorf("threshold %d: threshold+1 must reduce wait", threshold)
		}
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	p := Default()
	first := p.Decide(16)
	for i := 0; i < 100; i++ {
		p.Decide(i)
		if got := p.Decide(16); got != first {
			t.Fatalf("Decide(16) changed after %d calls: %+v != %+v", i, got, first)
		}
	}
	if p != Default() {
		t.Error("Decide must not mutate the policy")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "default", policy: Default()},
		{name: "zero threshold", policy: Policy{Threshold: 0, DefaultWait: time.Second, ReducedWait: time.Second}},
		{name: "negative threshold", policy: Policy{Threshold: -1, DefaultWait: time.Second, ReducedWait: time.Second}, wantErr: true},
		{name: "zero default wait", policy: Policy{Threshold: 5, ReducedWait: time.Second}, wantErr: true},
		{name: "zero reduced wait", policy: Policy{Threshold: 5, DefaultWait: time.Second}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.policy.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestDecisionString(t *testing.T) {
	p := Default()

	if got, want := p.Decide(16).String(), "Vehicle count (16) exceeds threshold. Wait time: 20s"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if got, want := p.Decide(15).String(), "Vehicle count (15) within threshold. Wait time: 30s"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
