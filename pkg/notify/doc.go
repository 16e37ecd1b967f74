// Package notify delivers membership events to interested people.
//
// The membership engine calls a Notifier synchronously after each successful
// add. Production wiring wraps the Redis publisher in an AsyncNotifier so
// that a slow or unavailable Redis never delays the request:
//
//	pool := async.NewWorkerPool(ctx, logger, 4, "notify", 5*time.Second)
//	n := notify.NewAsyncNotifier(notify.Multi{
//		notify.NewLogNotifier(logger, metrics),
//		notify.NewRedisNotifier(client, "", logger, metrics),
//	}, pool, logger)
//
// WebhookNotifier POSTs events to an HTTP endpoint instead, signing the body
// with HMAC-SHA256 in the X-Flock-Signature header when a secret is set.
// Receivers check it with VerifySignature.
package notify
