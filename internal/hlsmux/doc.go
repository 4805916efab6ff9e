// Package hlsmux packages a source.Source's live fan-out into HLS
// using bluenviron/gohlslib/v2, mounted at /{app}/{stream}/index.m3u8
// per spec.md §1's "HLS wire protocol" listing and expanded in
// SPEC_FULL.md §4.8. The segmenting, playlist generation and fMP4/TS
// packaging are entirely gohlslib's; this package's job is feeding it
// access units pulled off the FLV-tag-shaped MediaPackets every other
// front-end already produces, and mapping one HTTP mount onto one
// lazily-created, idle-reaped Muxer per path.
package hlsmux
