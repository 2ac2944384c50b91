// Package main provides the entry point for the GateWarden control plane.
// GateWarden is a multi-tenant zero-trust access platform; this binary runs
// the directory synchronization daemon that keeps each tenant's actors,
// groups and memberships converged with their external identity providers,
// plus a small operational REST API for triggering syncs and inspecting
// connection health. The application uses gorm for data persistence.
package main
