// Command vinscan captures Code 39 barcodes from a camera and validates them
// as vehicle identification numbers.
//
// Local commands (devices, probe, scan, decode, vin, history) work without a
// daemon. The daemon subcommands manage a long-running vinscand process that
// serves the same capture workflow over HTTP and a websocket result stream.
package main
