// Package events publishes talk lifecycle events to RabbitMQ. When no
// broker is configured, NopPublisher keeps the call sites unconditional.
// Publishing is fire-and-forget: a broker failure never blocks or fails the
// operation that produced the event.
package events
