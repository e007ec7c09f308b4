package main

// Overridden at build time via -ldflags for reporting build provenance.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)
