// Package scheduler runs the background jobs of the flock server on cron
// schedules: the RBAC expiry sweep, the community analytics snapshot and
// the audit log purge.
//
//	s := scheduler.New(logger, metrics)
//	_ = s.Add(scheduler.JobExpirySweep, "*/5 * * * *", scheduler.ExpirySweep(manager))
//	s.Start()
//	defer s.Stop(ctx)
package scheduler
