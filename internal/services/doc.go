// Package services provides the centralized service registry for chartd.
//
// Registry pattern for accessing the core services (records, workflows,
// notifications, catalog, settings, events, health, cache). Use
// NewRegistry() to create a registry with service instances, then
// accessor methods to retrieve individual services.
package services
