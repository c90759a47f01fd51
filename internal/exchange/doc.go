// Package exchange connects to the broker's realtime feed: it parses the delimited wire frames,
// keeps the websocket session alive across failures and falls back to REST snapshot polling.
package exchange
