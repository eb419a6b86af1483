// Package service contains the application-specific use cases that sit
// between the HTTP layer and the task orchestration core. It coordinates
// the task lifecycle, the background runner, and the notification
// dispatcher to fulfill application features.
//
// Services receive dependencies through constructor injection and depend
// only on domain entities and the store interfaces, never on a concrete
// store implementation. They translate store-level errors into
// application-level errors that the API layer maps to HTTP status codes.
package service
