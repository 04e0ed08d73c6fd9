// Package daemon runs the reel backend: the HTTP/WebSocket listener and the
// import inbox.
//
// The daemon:
//  1. Listens on the configured address and serves the API handler
//  2. Imports every *.jsonl file already in the inbox directory
//  3. Watches the inbox for new *.jsonl drops and imports them once they
//     have been quiet for the debounce interval
//  4. Shuts down gracefully, closing hijacked realtime connections
//
// Imported files are renamed to <name>.done, or <name>.failed when the file
// could not be read, so that a restart does not import them again.
package daemon
