package event

import "testing"

func TestAllocationEventLiveness(t *testing.T) {
	e := AllocationEvent{Address: 0x1000, Size: 8}
	if !e.IsLive() {
		t.Fatal("freshly constructed event should be live")
	}
	e.MarkReleased()
	if e.IsLive() {
		t.Fatal("event should no longer be live after MarkReleased")
	}
	if !e.Released() {
		t.Fatal("event should report Released after MarkReleased")
	}
	// MarkReleased is one-way; a second call is a no-op.
	e.MarkReleased()
	if e.Address != ReleasedAddress {
		t.Fatalf("address = %d, want %d", e.Address, ReleasedAddress)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero event cap", Config{EventCap: 0, StackDepth: 1, TimelineBucketNS: 1}, true},
		{"zero stack depth", Config{EventCap: 1, StackDepth: 0, TimelineBucketNS: 1}, true},
		{"zero bucket width", Config{EventCap: 1, StackDepth: 1, TimelineBucketNS: 0}, true},
		{"clamp stack depth", Config{EventCap: 1, StackDepth: MaxStackDepth + 100, TimelineBucketNS: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && cfg.StackDepth > MaxStackDepth {
				t.Fatalf("StackDepth = %d, want <= %d", cfg.StackDepth, MaxStackDepth)
			}
		})
	}
}

func TestConfigValidateEmptyDataDir(t *testing.T) {
	cfg := Config{EventCap: 1, StackDepth: 1, TimelineBucketNS: 1, DataDir: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.DataDir != DefaultDataDir {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, DefaultDataDir)
	}
}
