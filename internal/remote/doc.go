// Package remote defines the conversation backend contract consumed by the
// client-side conversation manager, and an HTTP implementation of it.
//
// # Routes
//
//	GET  /api/v1/bot/threads          list thread summaries
//	GET  /api/v1/bot/threads/{id}     fetch one thread with its sub-queries
//	POST /api/v1/bot/chat             send a query, receive classified answers
//	POST /api/v1/bot/switch_response  mark a response variant as preferred
//
// # Reply shapes
//
// A chat reply arrives in one of three shapes. New topics carry
// hyde_responses with three perspectives (query_A, query_B, query_C).
// Continuations carry a single direct_response. Older backends only send a
// keyed responses map whose key order is significant, so the map is decoded
// with gjson to keep wire order.
//
// # Errors
//
// Transport failures are returned as *NetworkError. Non-2xx replies are
// returned as *ServerError carrying the status and the server's detail text.
package remote
