// Package bridge implements the stateful stream-representation
// adapters spec.md §4.5 describes: RTC→RTMP (RTP depacketized into FLV
// tags) and RTMP→RTC (FLV tags repacketized into RTP). Both directions
// run in the publishing session/consumer's own goroutine, mirroring
// how internal/srtconn and internal/gb28181 already publish straight
// into a source.Source without a separate worker.
//
// The SRT/GB→RTMP bridge spec.md also names is not a separate type
// here: internal/srtconn and internal/gb28181's ingest.go already
// convert MPEG-TS/PS elementary streams into FLV-tag-shaped
// MediaPackets and call Source.OnVideo/OnAudio directly, which is the
// same responsibility spec.md assigns to that bridge. Splitting it out
// as a standalone source.Bridge would only add an indirection with no
// behavioral difference, so this package covers the two directions
// that genuinely need new wire-format conversion: RTC's RTP and
// RTMP/internal's FLV tags.
package bridge
