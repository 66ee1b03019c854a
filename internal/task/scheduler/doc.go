// Package scheduler is the persistent job engine.
//
// Jobs live in an in-memory active set owned by Service. A fixed-period tick
// picks due jobs, runs them through an Invoker, then advances or retires
// them. Every mutation rewrites the whole job document through Store, and on
// start the stored jobs pass through the catch-up policy in recovery.go
// before the tick loop resumes.
package scheduler
