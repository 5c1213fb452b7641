package worker

import "time"

// Event is published on every stage transition.
type Event struct {
	JobID  string    `json:"jobId"`
	Prefix string    `json:"prefix"`
	Stage  Stage     `json:"stage"`
	Error  string    `json:"error,omitempty"`
	Time   time.Time `json:"time"`
}

// Publisher delivers events. *mqttclient.Client implements it.
type Publisher interface {
	Publish(subtopic string, payload any) error
}

// EventTopic is the subtopic events for a job are published on.
func EventTopic(jobID string) string {
	return "jobs/" + jobID
}
