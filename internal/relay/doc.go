// Package relay receives Twitch EventSub webhook deliveries and forwards
// them to the WebSocket connection of the session owning the subscription.
//
// A delivery is processed in a fixed order:
//
//  1. The subscription id is resolved to a session. Unknown ids are rejected.
//  2. The signature is verified with the session's webhook secret.
//  3. The optional ReplayGuard drops stale and repeated messages.
//  4. Verification challenges are echoed back.
//  5. A subscription whose status is no longer "enabled" is deleted.
//  6. Notifications are written to the bound connection, or dropped when
//     the session has none.
//
// The delivery body is forwarded byte for byte.
package relay
