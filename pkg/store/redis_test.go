package store

import (
	"os"
	"testing"
)

// TestRedisStore runs the store contract against a real Redis server
// Set REDIS_ADDR environment variable to run: export REDIS_ADDR="localhost:6379"
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("Skipping Redis integration test: REDIS_ADDR not set")
	}

	s, err := NewRedisStore(Config{RedisAddr: addr, KeyPrefix: "whisperq-test:"})
	if err != nil {
		t.Fatalf("Failed to create Redis store: %v", err)
	}
	defer s.Close()

	testStoreContract(t, s)
}
