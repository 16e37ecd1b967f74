// Package async provides panic-safe goroutine helpers and a bounded worker
// pool used for background notification delivery.
package async
