// Package queue persists processing jobs, stage executions, error audit rows
// and the documents they belong to.
//
// The Store is backed by SQLite (modernc driver, the default) or Postgres
// (pgx) behind database/sql. Every lifecycle transition is a conditional
// UPDATE so that concurrent workers (processor, poller, webhook, recovery)
// can race safely: the loser observes zero affected rows and backs off.
// At most one active job may exist per (document, stage); CreateJob enforces
// this transactionally and a partial unique index backs it up.
package queue
