package shard

import (
	"strings"
	"testing"
)

func TestBucket_SingleShard(t *testing.T) {
	// With numShards=1, all values should go to bucket "00"
	tests := []string{"org-1", "org-2", "", "日本語"}

	for _, value := range tests {
		result := Bucket(value, 1)
		if result != "00" {
			t.Errorf("Bucket(%q, 1) = %q, want %q", value, result, "00")
		}
	}
}

func TestBucket_ZeroShards(t *testing.T) {
	// Zero or negative shards should be treated as 1
	if result := Bucket("org-1", 0); result != "00" {
		t.Errorf("expected '00', got %q", result)
	}
	if result := Bucket("org-1", -1); result != "00" {
		t.Errorf("expected '00', got %q", result)
	}
}

func TestBucket_MultipleShards(t *testing.T) {
	counts := make(map[string]int)
	for i := 0; i < 1000; i++ {
		value := "employee-" + string(rune('a'+i%26)) + string(rune('0'+i%10))
		counts[Bucket(value, 256)]++
	}

	// Should have distribution across multiple buckets (not all in one)
	if len(counts) < 10 {
		t.Errorf("expected distribution across multiple buckets, got only %d", len(counts))
	}
}

func TestBucket_Deterministic(t *testing.T) {
	first := Bucket("employee-1", 16)
	for i := 0; i < 100; i++ {
		if result := Bucket("employee-1", 16); result != first {
			t.Errorf("expected deterministic result %q, got %q on iteration %d", first, result, i)
		}
	}
}

func TestBucket_HexFormat(t *testing.T) {
	result := Bucket("employee-test", 256)
	if len(result) != 2 {
		t.Fatalf("expected 2-character bucket, got %q", result)
	}
	for _, c := range result {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Errorf("expected hex character, got %c", c)
		}
	}
}

func TestBucket_WithinRange(t *testing.T) {
	valid := make(map[string]bool)
	for _, b := range Buckets(16) {
		valid[b] = true
	}
	for i := 0; i < 500; i++ {
		value := strings.Repeat("x", i%50) + string(rune('a'+i%26))
		if b := Bucket(value, 16); !valid[b] {
			t.Errorf("bucket %q outside the 16-bucket range", b)
		}
	}
}

func TestBucket_VeryLargeShardCount(t *testing.T) {
	// Values above MaxShards are clamped
	valid := make(map[string]bool)
	for _, b := range Buckets(MaxShards) {
		valid[b] = true
	}
	if b := Bucket("employee-1", 1000); !valid[b] {
		t.Errorf("expected clamped bucket, got %q", b)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{-5, 1},
		{0, 1},
		{1, 1},
		{16, 16},
		{256, 256},
		{500, 256},
	}

	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBuckets(t *testing.T) {
	b := Buckets(4)
	want := []string{"00", "01", "02", "03"}
	if len(b) != len(want) {
		t.Fatalf("expected %d buckets, got %d", len(want), len(b))
	}
	for i := range want {
		if b[i] != want[i] {
			t.Errorf("bucket %d = %q, want %q", i, b[i], want[i])
		}
	}
	if len(Buckets(0)) != 1 {
		t.Error("expected a single bucket for numShards=0")
	}
}

func BenchmarkBucket_SingleShard(b *testing.B) {
	value := "employee#550e8400-e29b-41d4-a716-446655440000"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Bucket(value, 1)
	}
}

func BenchmarkBucket_256Shards(b *testing.B) {
	value := "employee#550e8400-e29b-41d4-a716-446655440000"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Bucket(value, 256)
	}
}
