// Package registry is the glue between the command line, the browser GUI and
// the tool implementations.
//
// Every tool conntool exposes (the CONN pipeline, bids-info, map-ids,
// reorganize and export) is compiled in as a module that registers a Tool:
// a name, its parameter declarations and a Run function. The CLI turns its
// flags into Params and the GUI turns query strings into Params, so both
// front ends run the exact same code path and share the same validation.
package registry
