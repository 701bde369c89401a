// Package preflight provides readiness checks for the binaries, directories
// and capture devices vinscan depends on.
//
// The daemon runs RunAll at startup and logs failures without refusing to
// start. The CLI "vinscan probe" command renders the same results.
package preflight
