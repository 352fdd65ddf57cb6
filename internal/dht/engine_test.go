package dht

import "testing"

func TestRandomIDInBucket_RoutesToRequestedBucket(t *testing.T) {
	var local NodeID
	local[0] = 0xaa

	for _, bucketIdx := range []int{0, 1, 75, 159} {
		t.Run("", func(t *testing.T) {
			id := randomIDInBucket(local, bucketIdx)
			got := BucketIndex(local, id)
			if got != bucketIdx {
				t.Fatalf("BucketIndex(local, randomIDInBucket(local, %d)) = %d", bucketIdx, got)
			}
		})
	}
}

func TestDefaultConfig_Sane(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.K != K {
		t.Fatalf("cfg.K = %d, want %d", cfg.K, K)
	}
	if cfg.Alpha != Alpha {
		t.Fatalf("cfg.Alpha = %d, want %d", cfg.Alpha, Alpha)
	}
	if len(cfg.BootstrapNodes) == 0 {
		t.Fatalf("expected default bootstrap nodes")
	}
	if cfg.QueryTimeout <= 0 || cfg.LookupTimeout <= 0 {
		t.Fatalf("timeouts must be positive: %+v", cfg)
	}
}
