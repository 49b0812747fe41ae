// Package canned caches auto-send support articles per tenant, rendered
// from markdown to HTML once on first use. The "connected" and "start" tags
// drive automatic delivery when a customer connects and when a talk starts.
package canned
