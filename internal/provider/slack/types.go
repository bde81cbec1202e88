// Package slack implements a Provider that posts notifications through the Slack Web API.
package slack

// transientErrors are Slack error codes worth retrying.
var transientErrors = map[string]bool{
	"ratelimited":         true,
	"internal_error":      true,
	"fatal_error":         true,
	"service_unavailable": true,
	"request_timeout":     true,
}
