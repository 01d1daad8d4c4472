// Package workflow runs the orchestration workers that push documents through
// the five-stage pipeline.
//
// Five workers each tick on their own interval: the Scheduler creates the next
// stage job for automatic documents, the Processor claims pending jobs and
// submits them to the remote worker, the Poller reconciles remote task state,
// Recovery escalates jobs stuck in flight, and Cleanup releases remote task
// resources and purges old jobs. The Manager owns their lifecycles and exposes
// operator actions (manual trigger, retry, cancel) plus the webhook completion
// path.
//
// Correctness does not depend on coordination between workers. Every job
// transition is a conditional update in the queue store, so a late remote
// result or a duplicate completion becomes a logged no-op.
package workflow
