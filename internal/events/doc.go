// Package events provides types and interfaces for an event-driven architecture.
//
// Producers publish events without knowing which handlers will process them.
// The job API emits a JobsSubmitted event after every successful submission
// and the task runner subscribes to it to wake its idle poll loop.
//
// The primary components are:
// - Event: a typed message with a JSON payload
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
