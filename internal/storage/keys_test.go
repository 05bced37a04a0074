package storage

import "testing"

// The key layout is shared with existing datasets, so the exact strings
// are load-bearing.
func TestKeyLayout(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"queue meta", QueueMetaKey("orders"), "qm:meta:orders"},
		{"queue items", QueueItemsKey("orders"), "qm:items:orders"},
		{"item", ItemKey("orders", "i1"), "qm:queue:item:orders:i1"},
		{"scheduled", ScheduledKey("orders"), "qm:queue:scheduled:orders"},
		{"job", JobKey("j1"), "qm:queue:job:j1"},
		{"dependencies", DependenciesKey("orders", "i1"), "qm:queue:dependencies:orders:i1"},
		{"rate limit", RateLimitKey("orders"), "qm:queue:rate_limit:orders"},
		{"rate counters", RateCountersKey("orders"), "qm:queue:rate_counters:orders"},
		{"execution", ExecutionKey("orders", "j1"), "qm:queue:execution:orders:j1"},
		{"timeout", TimeoutKey("orders", "j1"), "qm:queue:timeout:orders:j1"},
		{"audit config", AuditConfigKey("orders"), "qm:queue:audit:config:orders"},
		{"audit log", AuditLogKey("orders", "a1"), "qm:queue:audit:log:orders:a1"},
		{"audit index", AuditIndexKey("orders"), "qm:queue:audit:index:orders"},
		{"retry history", RetryHistoryKey("orders"), "qm:queue:retry:history:orders"},
		{"retry job", RetryJobKey("j1"), "qm:queue:retry:job:j1"},
		{"schema", SchemaKey("orders"), "qm:queue:schema:orders"},
		{"notify channel", NotifyChannel("j1"), "qm:queue:notify:j1"},
		{"schedule lock", ScheduleLockKey("s1"), "qm:queue:schedule_lock:s1"},
		{"meta pattern", QueueMetaPattern(), "qm:meta:*"},
		{"item pattern", ItemPattern("orders"), "qm:queue:item:orders:*"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, tt.got)
			}
		})
	}
}

func TestQueuePatterns_CoverOwnedKeys(t *testing.T) {
	patterns := QueuePatterns("orders")
	if len(patterns) == 0 {
		t.Fatal("expected patterns")
	}
	seen := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		if seen[p] {
			t.Errorf("duplicate pattern %q", p)
		}
		seen[p] = true
	}
	for _, want := range []string{
		"qm:meta:orders",
		"qm:items:orders",
		"qm:queue:scheduled:orders",
		"qm:queue:item:orders:*",
	} {
		if !seen[want] {
			t.Errorf("expected pattern %q to be covered", want)
		}
	}
}
