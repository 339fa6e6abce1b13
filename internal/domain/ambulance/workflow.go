package ambulance

import "github.com/bristolpark/hmis/internal/platform/workflow"

// CallMachine governs emergency call status. A patient treated on scene
// completes straight from at_scene.
var CallMachine = workflow.New("ambulance_call", CallPending, map[CallStatus][]CallStatus{
	CallPending:      {CallDispatched, CallCancelled},
	CallDispatched:   {CallEnRoute, CallCancelled},
	CallEnRoute:      {CallAtScene, CallCancelled},
	CallAtScene:      {CallTransporting, CallCompleted, CallCancelled},
	CallTransporting: {CallAtHospital},
	CallAtHospital:   {CallCompleted},
}, CallCompleted, CallCancelled)

var AmbulanceMachine = workflow.New("ambulance", AmbulanceAvailable, map[AmbulanceStatus][]AmbulanceStatus{
	AmbulanceAvailable:    {AmbulanceDispatched, AmbulanceOutOfService, AmbulanceStandby},
	AmbulanceStandby:      {AmbulanceAvailable, AmbulanceDispatched, AmbulanceOutOfService},
	AmbulanceDispatched:   {AmbulanceEnRoute, AmbulanceAtScene, AmbulanceReturning},
	AmbulanceEnRoute:      {AmbulanceAtScene, AmbulanceReturning},
	AmbulanceAtScene:      {AmbulanceTransporting, AmbulanceReturning},
	AmbulanceTransporting: {AmbulanceAtHospital},
	AmbulanceAtHospital:   {AmbulanceReturning},
	AmbulanceReturning:    {AmbulanceAvailable, AmbulanceDispatched, AmbulanceOutOfService},
	AmbulanceOutOfService: {AmbulanceAvailable},
})

var MaintenanceMachine = workflow.New("ambulance_maintenance", MaintenanceScheduled, map[MaintenanceStatus][]MaintenanceStatus{
	MaintenanceScheduled:  {MaintenanceInProgress, MaintenanceCompleted, MaintenanceCancelled},
	MaintenanceInProgress: {MaintenanceCompleted, MaintenanceCancelled},
}, MaintenanceCompleted, MaintenanceCancelled)

// dispatchable reports whether an ambulance in status s may take a call.
func dispatchable(s AmbulanceStatus) bool {
	return s == AmbulanceAvailable || s == AmbulanceStandby || s == AmbulanceReturning
}

// mirrorStatus is the ambulance status that follows a call status change.
// ok is false when the call status has no ambulance counterpart.
func mirrorStatus(s CallStatus) (AmbulanceStatus, bool) {
	switch s {
	case CallEnRoute:
		return AmbulanceEnRoute, true
	case CallAtScene:
		return AmbulanceAtScene, true
	case CallTransporting:
		return AmbulanceTransporting, true
	case CallAtHospital:
		return AmbulanceAtHospital, true
	case CallCompleted, CallCancelled:
		return AmbulanceReturning, true
	}
	return "", false
}
