// Package alerts implements the rule evaluation engine and webhook delivery
// for adlens alerting. Rules are evaluated against each job result as it is
// ingested; webhooks are delivered to Teams, Slack or generic HTTP targets.
package alerts
