// Package stripper removes metadata from classified media blobs.
//
// Still images are decoded to their first frame and encoded afresh as JPEG,
// so no source metadata can survive the round trip. Movies are remuxed in
// place: metadata boxes become free space of the same size, header
// timestamps are zeroed, and timed-metadata tracks are dropped, while sample
// data is copied bit for bit. Video work runs asynchronously behind an
// Export handle that supports cancellation at any point and never leaves a
// partial scratch file behind.
package stripper
