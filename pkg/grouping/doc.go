/*
Package grouping decides which logical group an asset belongs to and
manages the derived per-group streams on the change-stream engine.

Strategies are registered by name and selected at startup via
GROUPING_STRATEGY. The shipped strategy groups assets by a configured UNS
level (e.g. "workcenter") using the asset-to-UNS mapping table on ksqlDB.
All literals interpolated into statements are escaped.
*/
package grouping
