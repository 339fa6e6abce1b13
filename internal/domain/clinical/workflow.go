package clinical

import "github.com/bristolpark/hmis/internal/platform/workflow"

// QueueMachine governs a visit's progress through the outpatient department.
var QueueMachine = workflow.New("clinical_queue", StatusRegistered, map[PatientStatus][]PatientStatus{
	StatusRegistered:    {StatusWaitingVitals, StatusCancelled},
	StatusWaitingVitals: {StatusVitalsTaken, StatusCancelled},
	StatusVitalsTaken:   {StatusWithDoctor, StatusCancelled},
	StatusWithDoctor:    {StatusLabOrdered, StatusPharmacy, StatusAdmission, StatusCompleted, StatusCancelled},
	StatusLabOrdered:    {StatusLabCompleted, StatusCancelled},
	StatusLabCompleted:  {StatusWithDoctor, StatusPharmacy, StatusAdmission, StatusCompleted},
	StatusPharmacy:      {StatusCompleted},
	StatusAdmission:     {StatusCompleted},
}, StatusCompleted, StatusCancelled)

var LabTestMachine = workflow.New("clinical_lab_test", LabOrdered, map[LabTestStatus][]LabTestStatus{
	LabOrdered:         {LabSampleCollected, LabCancelled},
	LabSampleCollected: {LabProcessing, LabCancelled},
	LabProcessing:      {LabCompleted, LabCancelled},
}, LabCompleted, LabCancelled)

// Estimated waits are in minutes.

func registrationWait(p Priority) int {
	switch p {
	case PriorityEmergency:
		return 0
	case PriorityUrgent:
		return 10
	}
	return 30
}

func statusWait(s PatientStatus, p Priority) int {
	switch s {
	case StatusWaitingVitals:
		return 10
	case StatusVitalsTaken:
		switch p {
		case PriorityEmergency:
			return 0
		case PriorityUrgent:
			return 5
		}
		return 15
	}
	return 0
}

func priorityWait(p Priority, s PatientStatus) int {
	switch p {
	case PriorityEmergency:
		return 0
	case PriorityUrgent:
		if s == StatusVitalsTaken {
			return 5
		}
		return 10
	}
	if s == StatusVitalsTaken {
		return 15
	}
	return 30
}

// labsSettled reports whether every ordered test has a final status.
func labsSettled(tests []LabTest) bool {
	if len(tests) == 0 {
		return false
	}
	for _, t := range tests {
		if !LabTestMachine.IsTerminal(t.Status) {
			return false
		}
	}
	return true
}
