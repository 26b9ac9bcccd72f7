// Package async runs background work safely.
//
// SafeGo starts a goroutine with panic recovery, an optional timeout and
// error logging, and reports completion on a channel. Batch fans work out
// over a bounded number of goroutines and joins every failure.
//
//	err := async.Batch(ctx, logger, chunks, 4, "archive upload", time.Minute,
//		func(ctx context.Context, chunk []*audit.Entry) error {
//			return archiver.upload(ctx, chunk)
//		})
package async
