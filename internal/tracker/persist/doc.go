// Package persist keeps a local copy of the tracker state.
//
// Two sinks hold the state. The fast sink (Cache, a SQLite database) is
// written synchronously after every change so a crash loses nothing that the
// store accepted. The durable sink (File, a plain JSON document) is written
// through a debouncer so bursts of edits cost one disk rewrite. On startup
// Load prefers the fast sink and falls back to the durable one.
package persist
