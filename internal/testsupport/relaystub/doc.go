// Package relaystub hosts a deterministic fake of the stream relay management
// API. It keeps the registered streams in memory, records every call, and can
// be told to fail or stall so relay cache tests can assert network behavior
// without a real relay process.
package relaystub
