package clinical

import "testing"

func TestQueueMachine(t *testing.T) {
	tests := []struct {
		from, to PatientStatus
		ok       bool
	}{
		{StatusRegistered, StatusWaitingVitals, true},
		{StatusRegistered, StatusWithDoctor, false},
		{StatusWaitingVitals, StatusVitalsTaken, true},
		{StatusVitalsTaken, StatusWithDoctor, true},
		{StatusWithDoctor, StatusLabOrdered, true},
		{StatusWithDoctor, StatusAdmission, true},
		{StatusLabOrdered, StatusPharmacy, false},
		{StatusLabOrdered, StatusLabCompleted, true},
		{StatusLabCompleted, StatusWithDoctor, true},
		{StatusLabCompleted, StatusCancelled, false},
		{StatusPharmacy, StatusCompleted, true},
		{StatusPharmacy, StatusCancelled, false},
		{StatusAdmission, StatusCompleted, true},
		{StatusCompleted, StatusRegistered, false},
		{StatusCancelled, StatusRegistered, false},
	}
	for _, tt := range tests {
		if got := QueueMachine.Can(tt.from, tt.to); got != tt.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
	if !QueueMachine.IsTerminal(StatusCompleted) || !QueueMachine.IsTerminal(StatusCancelled) {
		t.Error("completed and cancelled must be terminal")
	}
}

func TestLabTestMachine(t *testing.T) {
	steps := []LabTestStatus{LabOrdered, LabSampleCollected, LabProcessing, LabCompleted}
	for i := 0; i < len(steps)-1; i++ {
		if !LabTestMachine.Can(steps[i], steps[i+1]) {
			t.Errorf("expected %s -> %s", steps[i], steps[i+1])
		}
		if !LabTestMachine.Can(steps[i], LabCancelled) {
			t.Errorf("expected %s -> cancelled", steps[i])
		}
	}
	if LabTestMachine.Can(LabCompleted, LabCancelled) {
		t.Error("completed test must not be cancellable")
	}
}

func TestWaitRules(t *testing.T) {
	if got := statusWait(StatusVitalsTaken, PriorityEmergency); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := statusWait(StatusLabOrdered, PriorityNormal); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
	if got := priorityWait(PriorityNormal, StatusWaitingVitals); got != 30 {
		t.Errorf("expected 30, got %d", got)
	}
}

func TestLabsSettled(t *testing.T) {
	if labsSettled(nil) {
		t.Error("no tests must not count as settled")
	}
	tests := []LabTest{{Status: LabCompleted}, {Status: LabCancelled}}
	if !labsSettled(tests) {
		t.Error("expected settled")
	}
	tests = append(tests, LabTest{Status: LabProcessing})
	if labsSettled(tests) {
		t.Error("processing test must keep labs open")
	}
}
