package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricSwitchesScanned   = "SwitchesScanned"
	MetricSwitchesTriggered = "SwitchesTriggered"
	MetricTriggerConflicts  = "TriggerConflicts"
	MetricJobsEnqueued      = "DeliveryJobsEnqueued"
	MetricQueueLagMs        = "DeliveryQueueLagMs"
	MetricDeliveryAttempt   = "DeliveryAttempt"
	MetricDeliverySuccess   = "DeliverySuccess"
	MetricDeliveryFailed    = "DeliveryFailed"
	MetricDeliveryTerminal  = "DeliveryTerminalFailure"
	MetricSentMarkLost      = "SentMarkNotPersisted"
	MetricRemindersSent     = "RemindersSent"
	MetricRemindersDeduped  = "RemindersDeduplicated"
	MetricRetentionPurged   = "RetentionRowsPurged"

	// Dimension Keys
	DimQueue  = "Queue"
	DimTask   = "Task"
	DimReason = "Reason"
	DimEntity = "Entity"

	// Metric Namespace
	MetricNamespace = "Lifeline"
)
