// Package ksql is a minimal HTTP client for ksqlDB: DDL/DML statements,
// pull queries and table listing, plus literal escaping for everything
// interpolated into statements.
package ksql
