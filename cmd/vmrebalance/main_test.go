package main

import "testing"

// S6 — Skip threshold: a solved diff whose total migration cost is below
// skipThreshold must never reach the executor, dry-run or not; at or
// above it, dry-run only reports while a normal run executes.
func TestDecidePlanAction(t *testing.T) {
	tests := []struct {
		name      string
		totalCost int64
		dryRun    bool
		want      action
	}{
		{"below threshold, normal run is skipped", skipThreshold - 1, false, actionSkipBelowThreshold},
		{"below threshold, dry run is still skipped", skipThreshold - 1, true, actionSkipBelowThreshold},
		{"at threshold, normal run executes", skipThreshold, false, actionExecute},
		{"at threshold, dry run only reports", skipThreshold, true, actionDryRun},
		{"above threshold, normal run executes", skipThreshold + 1, false, actionExecute},
		{"above threshold, dry run only reports", skipThreshold + 1, true, actionDryRun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decidePlanAction(tt.totalCost, tt.dryRun)
			if got != tt.want {
				t.Fatalf("decidePlanAction(%d, %v) = %v, want %v", tt.totalCost, tt.dryRun, got, tt.want)
			}
		})
	}
}
