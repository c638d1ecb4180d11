package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskAbandonmentSweep = "leads.abandonment_sweep"

const TaskCalendarSync = "calendar.sync"

type AbandonmentSweepPayload struct {
	OlderThanHours int `json:"olderThanHours"`
}

type CalendarSyncPayload struct {
	WindowDays int `json:"windowDays"`
}

func NewAbandonmentSweepTask(payload AbandonmentSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAbandonmentSweep, data), nil
}

func ParseAbandonmentSweepPayload(task *asynq.Task) (AbandonmentSweepPayload, error) {
	var payload AbandonmentSweepPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AbandonmentSweepPayload{}, err
	}
	return payload, nil
}

func NewCalendarSyncTask(payload CalendarSyncPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCalendarSync, data), nil
}

func ParseCalendarSyncPayload(task *asynq.Task) (CalendarSyncPayload, error) {
	var payload CalendarSyncPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CalendarSyncPayload{}, err
	}
	return payload, nil
}
