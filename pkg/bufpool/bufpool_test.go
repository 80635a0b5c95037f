package bufpool

import "testing"

func TestGetSizes(t *testing.T) {
	p := NewPool(0, 0)
	tests := []int{0, 1, 100, DefaultSmallSize, DefaultSmallSize + 1, DefaultFrameSize, DefaultFrameSize * 2}
	for _, size := range tests {
		buf := p.Get(size)
		if len(buf) != size {
			t.Errorf("Get(%d) returned len %d", size, len(buf))
		}
		p.Put(buf)
	}
}

func TestReuse(t *testing.T) {
	p := NewPool(64, 128)
	buf := p.Get(50)
	buf[0] = 0xAA
	p.Put(buf)

	// The next small request should come from the pool.
	again := p.Get(64)
	if cap(again) != 64 {
		t.Errorf("expected pooled 64-byte buffer, got cap %d", cap(again))
	}
	p.Put(again)
}

func TestOversizedNotPooled(t *testing.T) {
	p := NewPool(64, 128)
	buf := p.Get(1024)
	if len(buf) != 1024 {
		t.Fatalf("Get(1024) returned len %d", len(buf))
	}
	p.Put(buf) // no-op, must not panic
}

func TestDefaultPoolHelpers(t *testing.T) {
	buf := Get(512)
	if len(buf) != 512 {
		t.Fatalf("Get(512) returned len %d", len(buf))
	}
	Put(buf)
}
