package models

import (
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		// Valid transitions
		{"Starting to Running", JobStatusStarting, JobStatusRunning, false},
		{"Starting to Done", JobStatusStarting, JobStatusDone, false},
		{"Starting to Error", JobStatusStarting, JobStatusError, false},
		{"Running to Running", JobStatusRunning, JobStatusRunning, false},
		{"Running to Done", JobStatusRunning, JobStatusDone, false},
		{"Running to Error", JobStatusRunning, JobStatusError, false},

		// Invalid transitions
		{"Running to Starting", JobStatusRunning, JobStatusStarting, true},
		{"Done to Running", JobStatusDone, JobStatusRunning, true},
		{"Done to Error", JobStatusDone, JobStatusError, true},
		{"Error to Done", JobStatusError, JobStatusDone, true},
		{"Error to Starting", JobStatusError, JobStatusStarting, true},
		{"Unknown source", JobStatusUnknown, JobStatusRunning, true},
		{"Unknown target", JobStatusStarting, JobStatusUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTransition(%v, %v) error = %v, wantErr %v",
					tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestIsTerminalState(t *testing.T) {
	tests := []struct {
		state    JobStatus
		expected bool
	}{
		{JobStatusStarting, false},
		{JobStatusRunning, false},
		{JobStatusDone, true},
		{JobStatusError, true},
		{JobStatusUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := IsTerminalState(tt.state); got != tt.expected {
				t.Errorf("IsTerminalState(%v) = %v, want %v", tt.state, got, tt.expected)
			}
		})
	}
}

func TestTransitionKeepsInvariant(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := NewStartingRecord("20260301-120000-abcd1234", "remote-1", "https://example.com/v", now)
	if err := rec.Validate(); err != nil {
		t.Fatalf("starting record invalid: %v", err)
	}

	running, err := rec.Transition(JobStatusRunning, nil, "", now.Add(time.Second))
	if err != nil {
		t.Fatalf("Transition to running failed: %v", err)
	}
	if err := running.Validate(); err != nil {
		t.Fatalf("running record invalid: %v", err)
	}

	done, err := running.Transition(JobStatusDone, map[string]string{ArtifactSRT: "s3://b/k.srt"}, "ignored", now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Transition to done failed: %v", err)
	}
	if done.Error != "" {
		t.Errorf("done record carries error %q", done.Error)
	}
	if err := done.Validate(); err != nil {
		t.Fatalf("done record invalid: %v", err)
	}

	if _, err := done.Transition(JobStatusError, nil, "late failure", now.Add(3*time.Second)); err == nil {
		t.Error("expected transition out of done to fail")
	}

	if _, err := running.Transition(JobStatusDone, nil, "", now); err == nil {
		t.Error("expected done without locations to fail")
	}

	failed, err := running.Transition(JobStatusError, nil, "", now)
	if err != nil {
		t.Fatalf("Transition to error failed: %v", err)
	}
	if failed.Error == "" {
		t.Error("error record must carry a message")
	}
	if running.Status != JobStatusRunning {
		t.Errorf("Transition mutated its receiver: %v", running.Status)
	}
}

func TestStatusRank(t *testing.T) {
	if !(StatusRank(JobStatusStarting) < StatusRank(JobStatusRunning) &&
		StatusRank(JobStatusRunning) < StatusRank(JobStatusDone) &&
		StatusRank(JobStatusDone) == StatusRank(JobStatusError)) {
		t.Error("status ranks are not ordered along the lifecycle")
	}
	if StatusRank(JobStatusUnknown) != -1 {
		t.Error("unknown status should rank -1")
	}
}
