// Package provider talks to the cloud behind the fleet: it creates
// droplets from snapshots, destroys and reboots them, and keeps one
// VPC per workspace and region for the private network the node
// agents use.
//
// The Provider interface is what orchestration code depends on;
// DigitalOcean is the production implementation on top of godo.
// Droplet creation is deliberately never retried (it is not
// idempotent), while reads, deletes, and reboots get bounded backoff
// on transient API failures. A droplet that never reports a public IP
// inside the 60 second provisioning budget fails the provision but is
// left in place, with its provider id handed back for triage.
package provider
