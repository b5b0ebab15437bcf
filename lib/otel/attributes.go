package otel

// Attribute keys used on mediator spans
const (
	OperationName = "operation.name"

	HTTPStatusCode = "http.status_code"

	FHIRResourceType     = "fhir.resource_type"
	FHIRBundleType       = "fhir.bundle.type"
	FHIRBundleEntryCount = "fhir.bundle.entry_count"

	PatientReference = "mpi.patient_reference"
	PatientCreated   = "mpi.patient_created"
	SummaryCount     = "mpi.summary.count"

	MessagingTopic = "messaging.destination.name"

	ValidationResult = "validation.result"
)
