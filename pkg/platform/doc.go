/*
Package platform abstracts the deployment backend that hosts serving-layer
instances: one stream-api per group, the routing front-end and the central
state API.

Two backends implement the same interface and are selected by name at
startup (DEPLOYMENT_PLATFORM):

  - "docker": plain containers on a single host, for local development or
    externally orchestrated setups
  - "swarm": replicated services on a Docker Swarm cluster

Differences are confined to instance naming, port publishing (local mode
publishes a deterministic host port derived from the group name; cluster
mode exposes only the in-cluster port) and replica counts. All operations
are idempotent so deploy and teardown can be retried safely.
*/
package platform
