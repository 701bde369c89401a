// Package device owns camera capture hardware.
//
// A Device is a single exclusively-owned handle with a preview pipeline and a
// still capture call. The V4L2 implementation drives an ffmpeg preview
// process that keeps the newest frame on disk and guards each node with a
// gofrs/flock lock so only one process holds it at a time. FileOpener serves
// still images from disk through the same interface for offline scans and
// tests.
//
// Enumeration (List, Probe, Cursor) reads /sys/class/video4linux, and Watcher
// follows hotplug through udev netlink events.
package device
