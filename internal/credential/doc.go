// Package credential manages the pool of interchangeable API keys used to
// call the generation API.
//
// A Pool hands out exclusive leases. Each lease is returned with an Outcome
// that drives the key's health: rate-limited keys cool down for a fixed
// period, rejected keys are retired for the life of the process, and keys
// that hit their quota stay out until ResetQuota is called. Key material is
// never exposed through Status, logs or errors; only a short fingerprint is.
package credential
