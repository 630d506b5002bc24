// Package voicevendor implements the speech vendor's persistent binary
// websocket protocol, shared by recognition and synthesis channels.
//
// It handles the connection-open handshake, session framing, recognition
// utterances (begin/send/end) and synthesis requests, and dispatches
// vendor events through callbacks.
package voicevendor
