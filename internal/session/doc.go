// Package session owns one capture device and runs concurrent barcode
// decodes against stills pulled from its preview.
//
// A Session moves through NotInitialized, NotCapturing and Capturing, with
// InAsyncTask marking any span where a device call or the stop drain is in
// progress. RequestDecodeNow is accepted only while Capturing; each accepted
// request gets a fresh TaskID and a worker goroutine that captures, decodes
// and hands its Result to the session's Owner. The owner runs the callback
// and only then retires the task, so TryStopCapture observes an empty
// in-flight set strictly after the last callback returned.
//
// Close is the only path that releases the device. It refuses to run while
// tasks are still in flight.
//
// Callbacks run on the owner goroutine. They must not call TryStopCapture or
// Close on the same session, since those wait for the owner to drain.
package session
