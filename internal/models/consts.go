package models

const (
	STATUS_UP         = "UP"
	STATUS_DEGRADED   = "DEGRADED"
	STATUS_DOWN       = "DOWN"
	HEALTH_ISSUE_NONE = "None reported"
	//
	SERVICE_BUS  = "Azure Service Bus"
	UPLOAD_LOCKS = "Upload Locks"
) // .const
