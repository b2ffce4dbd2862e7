// Package feed maintains the websocket stream of instance state events.
//
// The feed:
//   - Holds one socket per account, redialing with exponential backoff
//   - Decodes connected/disconnected/stream_closed frames and hands them
//     to the connection layer in wire order
//   - Synthesizes stream_closed for instances that were live when the
//     socket dropped
//   - Sends keepalive pings and redials stale sockets
package feed
