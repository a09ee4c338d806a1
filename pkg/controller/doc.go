/*
Package controller composes the grouping strategy and the deployment
platform into the routing controller.

The controller owns the serving-layer lifecycle (create derived streams
and instances per group, plus the state API and the front-end itself),
answers "where does asset X live?" for the request path, and aggregates
readiness over every subcomponent into a single issues map keyed by
component name or "service:<group>".

Group membership is consulted at deploy time as a snapshot: groups that
become populated later have no derived stream or instance until the next
deploy cycle.
*/
package controller
