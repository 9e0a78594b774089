// Package media wraps the external inspection and encoding tools used by the
// transcode pipeline and owns the static quality ladder.
//
// The package exposes two capabilities behind interfaces so orchestration
// logic can be tested without invoking real binaries:
//
//   - Prober (FFprobe): read-only extraction of source duration and native
//     resolution.
//   - Renderer (FFmpeg): production of one segmented HLS rendition per call,
//     plus cover-image extraction.
//
// It also builds the master manifest text referencing whichever renditions
// exist at a given moment; the manifest is rebuilt from scratch on every
// change rather than patched incrementally.
package media
