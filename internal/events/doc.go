// Package events provides types and interfaces for an event-driven architecture.
//
// This package defines the user-facing task outcome events and the handler
// interfaces that allow for loose coupling between components. The
// notification dispatcher emits outcome events without knowing which handlers
// (toast UIs, SSE streams, logs) will process them.
//
// The primary components are:
// - TaskOutcomeEvent: Represents the single user-facing event for a finished task
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
