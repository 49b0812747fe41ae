// Package tenant builds and indexes the per-tenant runtime: dispatcher,
// presence tables, and canned-article cache, keyed by the tenant routing
// key. The registry is built once at startup; during construction it marks
// talks left open by a previous run as shutdown.
package tenant
