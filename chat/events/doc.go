// Package events publishes chat lifecycle and message events for consumers
// outside the process, such as analytics or moderation pipelines.
//
// Every event is JSON encoded and keyed by connection id so that all events of
// one connection land on the same Kafka partition in order. Publishing is a
// side effect: the room logs failures and never lets them affect delivery.
package events
