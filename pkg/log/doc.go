// Package log provides structured logging for the serving layer based on
// zerolog. A single global logger is initialised once at startup from the
// LOG_LEVEL environment setting; components derive child loggers carrying a
// component, group or asset field.
package log
