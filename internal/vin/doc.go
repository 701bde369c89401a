// Package vin validates Vehicle Identification Numbers read off Code 39
// barcodes.
//
// Validate reports length, character-set and check digit results
// separately so callers can tell a misread apart from a mistyped plate. The
// canonical form maps the letters I, O and Q (never legal in a VIN) to the
// digits they are usually confused with before the check digit is
// recomputed.
package vin
