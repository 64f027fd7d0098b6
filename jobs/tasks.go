package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail sends one transactional e-mail.
	TaskTypeSendEmail = "mail:send"
	// TaskObservationNotify tells a teacher about a newly scheduled observation.
	TaskObservationNotify = "observation:notify"
	// TaskObservationReminders mails reminders for the next day's observations.
	TaskObservationReminders = "observation:reminders"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Kind    string `json:"kind,omitempty"`
}

// ObservationNotifyPayload names the observation to announce.
type ObservationNotifyPayload struct {
	ObservationID string `json:"observation_id"`
}

// ObservationRemindersPayload sets how far ahead reminders look.
type ObservationRemindersPayload struct {
	HorizonHours int `json:"horizon_hours"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewObservationNotifyTask builds the announcement task for observationID.
func NewObservationNotifyTask(observationID string) (*asynq.Task, error) {
	data, err := json.Marshal(ObservationNotifyPayload{ObservationID: observationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskObservationNotify, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// NewObservationRemindersTask builds the reminder sweep task.
func NewObservationRemindersTask(horizonHours int) (*asynq.Task, error) {
	data, err := json.Marshal(ObservationRemindersPayload{HorizonHours: horizonHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskObservationReminders, data, asynq.Queue(QueueDefault)), nil
}
