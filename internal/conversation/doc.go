// Package conversation manages the client side of a multi-variant AI chat.
//
// # Overview
//
// A Controller owns two pieces of state: the ThreadStore (thread summaries
// and which thread is being viewed) and the Timeline (messages of the viewed
// thread). It is the only component that calls the remote.Service.
//
//	ctrl := conversation.NewController(client, conversation.Config{
//	    Greeting: "Ask me anything.",
//	}, logger)
//	defer ctrl.Close()
//
// # Optimistic Updates
//
// SendMessage appends the user message with status "sending" before the
// network call starts and returns a PendingSend handle. When the reply
// arrives the message becomes "delivered" and a bot message with its
// response variants is appended; on failure it becomes "failed". Nothing is
// ever removed from a timeline.
//
// MarkPreferred flips the preferred flag right away and rolls it back if the
// server rejects it.
//
// # Stale Replies
//
// Every reply is checked against the view it was issued from. A reply for a
// thread that is no longer viewed only updates that thread's summary; the
// visible timeline is left alone. For a brand new conversation the view
// generation is compared too, so a late reply never lands in a later blank
// conversation.
//
// # Response Variants
//
// Classify maps a chat reply onto variants:
//
//   - new topic: query_A, query_B, query_C (essence, systems, application)
//   - continuation: a single preferred "direct" variant (contextual)
//   - legacy: one variant per keyed response, in wire order
//
// # Concurrency
//
// All mutations run under a single mutex. Background work is detached from
// the caller's context; the HTTP client's timeout bounds it. Wait blocks
// until it has finished.
package conversation
