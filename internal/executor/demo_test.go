package executor

import (
	"testing"

	"github.com/kstaniek/rl-fuzz-bridge/internal/corpus"
)

func TestDemoTargetMapSizeStable(t *testing.T) {
	d := NewDemoTarget(1024)
	for _, seed := range [][]byte{[]byte("a"), []byte("hello world"), {}} {
		m, kind, err := d.Run(corpus.NewInput(seed, 0))
		if err != nil {
			t.Fatalf("Run(%q): %v", seed, err)
		}
		if len(m) != 1024 {
			t.Fatalf("Run(%q): map len = %d, want 1024", seed, len(m))
		}
		if kind != ExitOK {
			t.Fatalf("Run(%q): kind = %v, want ExitOK", seed, kind)
		}
	}
}

func TestDemoTargetDeterministic(t *testing.T) {
	d := NewDemoTarget(4096)
	in := corpus.NewInput([]byte("same input twice"), 0)
	m1, _, _ := d.Run(in)
	m2, _, _ := d.Run(in)
	if string(m1) != string(m2) {
		t.Fatal("DemoTarget.Run is not deterministic for identical input")
	}
}

func TestDemoTargetDefaultMapSize(t *testing.T) {
	d := NewDemoTarget(0)
	if d.MapSize() != corpus.DefaultMapSize {
		t.Fatalf("MapSize() = %d, want %d", d.MapSize(), corpus.DefaultMapSize)
	}
}

func TestDemoTargetDeepEdgeNeedsDoubleN(t *testing.T) {
	d := NewDemoTarget(65536)
	withNN, _, _ := d.Run(corpus.NewInput([]byte("xxNNxx"), 0))
	withoutNN, _, _ := d.Run(corpus.NewInput([]byte("xxNxxx"), 0))
	if string(withNN) == string(withoutNN) {
		t.Fatal("expected the NN bigram to light up an extra deep edge")
	}
}

func TestDemoTargetLongZeroRunCrashes(t *testing.T) {
	d := NewDemoTarget(1024)
	in := corpus.NewInput(make([]byte, 100), 0)
	_, kind, err := d.Run(in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if kind != ExitCrash {
		t.Fatalf("kind = %v, want ExitCrash for a 100-byte zero run", kind)
	}
}

func TestDemoTargetShortZeroRunDoesNotCrash(t *testing.T) {
	d := NewDemoTarget(1024)
	in := corpus.NewInput(make([]byte, 10), 0)
	_, kind, err := d.Run(in)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if kind != ExitOK {
		t.Fatalf("kind = %v, want ExitOK for a 10-byte zero run", kind)
	}
}
