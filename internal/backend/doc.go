// Package backend is a development server for the chat API the client talks
// to. It answers the same /api/v1/bot routes with deterministic content so
// the client can be run and tested without a model behind it.
//
// # Routes
//
//	GET  /api/v1/bot/health           liveness, no auth
//	GET  /api/v1/bot/config           providers and features
//	GET  /api/v1/bot/conversation_stats  caller's thread and turn counts
//	GET  /api/v1/bot/threads          caller's threads, newest first (?limit, ?skip)
//	GET  /api/v1/bot/threads/{id}     one thread with its sub-queries
//	POST /api/v1/bot/chat             send a query; no thread_id starts a thread
//	POST /api/v1/bot/switch_response  record a preferred response key
//
// Every route but health needs an HS256 bearer token for the trident-chat
// audience whose subject is the user id. Threads are private to their owner (403 otherwise).
//
// # Chat replies
//
// The first query of a thread, or one sharing little with it, is a
// new_topic and gets three answers (query_A essence, query_B systems,
// query_C application) as hyde_responses plus the keyed responses map.
// Anything else is a follow_up answered by a single direct_response. Each
// reply replaces the thread's responses and drops its recorded preferences;
// at most one response key is preferred at a time.
//
// # Idempotency
//
// POSTs carrying an Idempotency-Key are answered once per user and key.
// A retry gets the stored reply with Idempotent-Replayed: true, a
// concurrent duplicate gets 409, and 5xx replies are not stored.
package backend
