// Package retention removes change log entries older than a configured period.
//
// A Manager purges on demand; a Scheduler drives it from a cron expression.
// When an Archiver is configured the entries about to be removed are first
// written out (S3Archiver stores them as NDJSON objects) and a failed upload
// leaves the log untouched.
//
//	manager := retention.NewManager(svc, retention.WithArchiver(archiver))
//	scheduler, err := retention.NewScheduler(manager, "0 3 * * *", 90, 30*time.Minute, logrus.StandardLogger())
//	scheduler.Start()
//	defer scheduler.Stop(ctx)
//
// Purging resets the stats cache of the service, since any subject may have
// lost entries.
package retention
