// Package eventlog wraps the Kafka event log the pipeline stages
// communicate through. Every topic is partitioned by entity_id so
// records for one entity keep their order end to end.
package eventlog

const (
	TopicTransactions = "events.txns.v1"
	TopicClaims       = "events.claims.v1"
	TopicFeatures     = "features.online.v1"
	TopicScores       = "alerts.scores.v1"
	TopicDecisions    = "alerts.decisions.v1"
)
