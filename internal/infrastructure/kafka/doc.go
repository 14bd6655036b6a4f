// Package kafka publishes heating reading events to a Kafka topic.
//
// One message is produced per reading per poll cycle. The message key is
// "<device_id>/<sensor>" so a partition sees one sensor's history in order.
package kafka
