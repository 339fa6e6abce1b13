package bloodbank

import "github.com/bristolpark/hmis/internal/platform/workflow"

// UnitMachine governs blood unit status. Moving back to available is a
// release and only ReleaseUnit takes that edge.
var UnitMachine = workflow.New("blood_unit", UnitAvailable, map[UnitStatus][]UnitStatus{
	UnitAvailable:    {UnitReserved, UnitCrossmatched, UnitExpired, UnitDiscarded},
	UnitReserved:     {UnitCrossmatched, UnitAvailable, UnitExpired, UnitDiscarded},
	UnitCrossmatched: {UnitIssued, UnitAvailable, UnitExpired, UnitDiscarded},
	UnitIssued:       {UnitTransfused, UnitDiscarded},
	UnitExpired:      {UnitDiscarded},
}, UnitTransfused, UnitDiscarded)

var RequestMachine = workflow.New("blood_request", RequestPending, map[RequestStatus][]RequestStatus{
	RequestPending:    {RequestApproved, RequestCancelled},
	RequestApproved:   {RequestProcessing, RequestCancelled},
	RequestProcessing: {RequestReady, RequestCancelled},
	RequestReady:      {RequestIssued, RequestCancelled},
	RequestIssued:     {RequestCompleted},
}, RequestCompleted, RequestCancelled)
