// Package observability provides metrics for playbook runs.
package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys
const (
	attrJob        = "job"
	attrRepository = "repository"
	attrOutcome    = "outcome"
	attrState      = "state"
	attrEvent      = "event"
	attrSuccess    = "success"
)

func jobAttr(jobType string) attribute.KeyValue {
	return attribute.String(attrJob, jobType)
}

func repositoryAttr(repository string) attribute.KeyValue {
	return attribute.String(attrRepository, repository)
}

func outcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(attrOutcome, outcome)
}

func stateAttr(state string) attribute.KeyValue {
	// Snapshots that never reported a state are grouped together
	if state == "" {
		state = "unknown"
	}
	return attribute.String(attrState, state)
}

func eventAttr(eventType string) attribute.KeyValue {
	return attribute.String(attrEvent, eventType)
}

func successAttr(success bool) attribute.KeyValue {
	return attribute.Bool(attrSuccess, success)
}

// WithSuccess returns a metric option with the success attribute.
func WithSuccess(success bool) metric.MeasurementOption {
	return metric.WithAttributes(successAttr(success))
}
