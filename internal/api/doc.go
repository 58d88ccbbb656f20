// Package api handles the HTTP surface of the job queue: label submission,
// job and credential inspection, and operator actions. Handlers translate
// requests into service calls and map service errors to status codes through
// HandleAPIError so internal details never reach clients.
package api
