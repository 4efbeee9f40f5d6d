package observability

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"

	MEventPublishFailures MetricKey = "notification_publish_failed_total"
	MSchedulerTasks       MetricKey = "scheduler_tasks_total"
	MSchedulerActiveTasks MetricKey = "scheduler_active_tasks"
	MOrderTransitions     MetricKey = "order_transitions_total"
	MNotifications        MetricKey = "notifications_total"
)
