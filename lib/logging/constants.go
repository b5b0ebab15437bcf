package logging

// Common log field keys used throughout the application
const (
	FieldPatientID    = "patient_id"
	FieldPatientRef   = "patient_reference"
	FieldPipeline     = "pipeline"
	FieldStatusCode   = "status_code"
	FieldTopic        = "topic"
	FieldTransaction  = "transaction_status"
	FieldResourceType = "resource_type"
)
