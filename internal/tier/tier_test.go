package tier

import "testing"

func TestStaticProviderFallsBackToFree(t *testing.T) {
	p := NewStaticProvider(map[string]Limits{
		"Free": {MaxFileSize: 10 << 20, Daily: 20},
		"pro":  {MaxFileSize: 200 << 20},
	})

	if got := p.Limits("PRO").MaxFileSize; got != 200<<20 {
		t.Fatalf("expected pro limit, got %d", got)
	}
	if got := p.Limits("enterprise"); got.Daily != 20 {
		t.Fatalf("expected unknown tier to fall back to free, got %+v", got)
	}
	if p.Known("enterprise") {
		t.Fatal("enterprise should not be known")
	}
}

func TestStaticProviderAddsFree(t *testing.T) {
	p := NewStaticProvider(nil)
	if !p.Known(Free) {
		t.Fatal("free tier should always exist")
	}
	if got := p.Limits(""); got != (Limits{}) {
		t.Fatalf("expected zero limits, got %+v", got)
	}
}
