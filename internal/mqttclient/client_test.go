package mqttclient

import "testing"

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix, sub, want string
	}{
		{"stt", "jobs/abc/merged", "stt/jobs/abc/merged"},
		{"stt/", "/jobs/abc", "stt/jobs/abc"},
		{"", "jobs/abc", "jobs/abc"},
		{"stt", "", "stt"},
	}
	for _, tt := range tests {
		if got := Topic(tt.prefix, tt.sub); got != tt.want {
			t.Errorf("Topic(%q, %q) = %q, want %q", tt.prefix, tt.sub, got, tt.want)
		}
	}
}
