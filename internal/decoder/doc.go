// Package decoder turns captured stills into BGRA pixel buffers and reads
// Code 39 barcodes out of them.
//
// DecodeBGRA accepts PNG, JPEG, GIF, BMP, TIFF and WebP data. Orientation
// metadata and embedded colour profiles are ignored. Reader wraps the
// gozxing one-dimensional reader; a fresh gozxing reader is built for every
// call so a single Reader can be shared across decode goroutines.
package decoder
