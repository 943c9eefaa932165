package broker

import (
	"strings"

	"qmtbridge/internal/domain"
)

// TaskStatus is the workflow status code written to the TASKSTATUS column of
// the order result export.
type TaskStatus string

// Every state has its own code. "3" and "8" keep the meaning the terminal
// exports for them (part traded and cancelled); the cancel-pending and
// partially-cancelled states use the otherwise unused "4" and "6".
const (
	TaskUnknown        TaskStatus = "0"
	TaskWaitReporting  TaskStatus = "1"
	TaskReported       TaskStatus = "2"
	TaskPartSucc       TaskStatus = "3"
	TaskPartSuccCancel TaskStatus = "4"
	TaskReportedCancel TaskStatus = "5"
	TaskPartCancel     TaskStatus = "6"
	TaskSucceeded      TaskStatus = "7"
	TaskCanceled       TaskStatus = "8"
	TaskJunk           TaskStatus = "9"
)

var taskStatusMap = map[TaskStatus]domain.Status{
	TaskUnknown:        domain.StatusSubmitting,
	TaskWaitReporting:  domain.StatusSubmitting,
	TaskReported:       domain.StatusSubmitting,
	TaskPartSucc:       domain.StatusPartTraded,
	TaskPartSuccCancel: domain.StatusPartTraded,
	TaskReportedCancel: domain.StatusSubmitting,
	TaskPartCancel:     domain.StatusCancelled,
	TaskSucceeded:      domain.StatusAllTraded,
	TaskCanceled:       domain.StatusCancelled,
	TaskJunk:           domain.StatusRejected,
}

// TaskStatusToStatus maps a file-path task status code to the canonical
// status. Unknown codes map to StatusSubmitting.
func TaskStatusToStatus(code string) domain.Status {
	if s, ok := taskStatusMap[TaskStatus(strings.TrimSpace(code))]; ok {
		return s
	}
	return domain.StatusSubmitting
}

var orderStatusMap = map[int]domain.Status{
	OrderUnreported:     domain.StatusSubmitting,
	OrderWaitReporting:  domain.StatusSubmitting,
	OrderReported:       domain.StatusSubmitting,
	OrderReportedCancel: domain.StatusSubmitting,
	OrderPartSuccCancel: domain.StatusPartTraded,
	OrderPartCancel:     domain.StatusCancelled,
	OrderCanceled:       domain.StatusCancelled,
	OrderPartSucc:       domain.StatusPartTraded,
	OrderSucceeded:      domain.StatusAllTraded,
	OrderJunk:           domain.StatusRejected,
	OrderUnknown:        domain.StatusSubmitting,
}

// OrderStatusToStatus maps a direct-path order status code to the canonical
// status. Unknown codes map to StatusSubmitting.
func OrderStatusToStatus(code int) domain.Status {
	if s, ok := orderStatusMap[code]; ok {
		return s
	}
	return domain.StatusSubmitting
}
