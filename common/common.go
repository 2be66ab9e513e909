// Package common holds identifiers shared across TrafficFlo-Z binaries and servers.
package common

// PackageName is used as the metrics namespace and in user-agent strings.
const PackageName = "trafficflo"

// Version is set at build time via -ldflags.
var Version = "dev"
