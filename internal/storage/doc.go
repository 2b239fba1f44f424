package storage

// Package storage persists the notification lifecycle history.
//
// Every created/shown/clicked/closed/failed event flows through here when a
// driver is configured, so operators can reconstruct what was dispatched
// after the fact.
