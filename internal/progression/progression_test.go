package progression

import "testing"

func TestCompute_Table(t *testing.T) {
	tests := []struct {
		xp        int64
		level     int
		xpCurrent int64
		stage     string
	}{
		{0, 1, 0, "egg"},
		{99, 1, 99, "egg"},
		{100, 2, 0, "egg"},
		{260, 3, 10, "baby"},
		{449, 3, 199, "baby"},
		{450, 4, 0, "baby"},
		{700, 5, 0, "teen"},
		{999, 5, 299, "teen"},
		{1000, 6, 0, "teen"},
		{1400, 7, 0, "adult"},
		{1850, 8, 0, "adult"},
		{5000, 8, 3150, "adult"},
	}
	for _, tt := range tests {
		got := Compute(tt.xp)
		if got.Level != tt.level || got.XPCurrent != tt.xpCurrent || got.Stage != tt.stage {
			t.Errorf("Compute(%d) = %+v, want level=%d xp_current=%d stage=%s",
				tt.xp, got, tt.level, tt.xpCurrent, tt.stage)
		}
	}
}

func TestCompute_NegativeClampsToZero(t *testing.T) {
	got := Compute(-50)
	if got.Level != 1 || got.XPCurrent != 0 || got.Stage != "egg" {
		t.Errorf("Compute(-50) = %+v, want level 1 egg with 0 xp", got)
	}
}

func TestCompute_Monotonic(t *testing.T) {
	prev := Compute(0)
	for xp := int64(1); xp <= 2500; xp++ {
		cur := Compute(xp)
		if cur.Level < prev.Level {
			t.Fatalf("level decreased at xp=%d: %d -> %d", xp, prev.Level, cur.Level)
		}
		if cur.Level > MaxLevel {
			t.Fatalf("level %d exceeds max at xp=%d", cur.Level, xp)
		}
		if cur.XPCurrent < 0 {
			t.Fatalf("negative xp_current at xp=%d", xp)
		}
		prev = cur
	}
}

func TestNextThreshold(t *testing.T) {
	if v, ok := NextThreshold(1); !ok || v != 100 {
		t.Errorf("NextThreshold(1) = %d,%v; want 100,true", v, ok)
	}
	if v, ok := NextThreshold(7); !ok || v != 1850 {
		t.Errorf("NextThreshold(7) = %d,%v; want 1850,true", v, ok)
	}
	if _, ok := NextThreshold(8); ok {
		t.Error("NextThreshold(8) should report no next level")
	}
}

func TestThresholds_ReturnsCopy(t *testing.T) {
	curve := Thresholds()
	if len(curve) != MaxLevel || curve[1] != 100 {
		t.Fatalf("unexpected curve %v", curve)
	}
	curve[1] = 1
	if got := Compute(50); got.Level != 1 {
		t.Errorf("mutating the returned curve changed Compute: %+v", got)
	}
	if Thresholds()[1] != 100 {
		t.Error("curve is not isolated from callers")
	}
}
