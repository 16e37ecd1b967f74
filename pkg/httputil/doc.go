// Package httputil provides the response envelope writers and request
// parsing helpers shared by the HTTP handlers.
//
// Every response uses the same envelope:
//
//	{"success": true, "code": 200, "message": "...", "data": ..., "pagination": {...}}
//
// WriteError maps apperr kinds onto status codes so handlers can return
// service errors directly.
package httputil
