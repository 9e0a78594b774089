// Package transcode implements the incremental multi-quality transcoding
// pipeline.
//
// Overview
//
// Each upload becomes one background job owned by a bounded worker pool
// (Processor). The job (Orchestrator.Process) sequences:
//
//  1. Source validation (existence, size limit).
//  2. Metadata probe and thumbnail extraction; the first catalog commit
//     makes duration and cover image visible before any rendition exists.
//  3. The quality ladder, ascending: encode one rendition, publish its
//     files, rebuild the master manifest, commit the catalog record.
//
// The design favours availability over atomicity: the record flips to
// COMPLETED on the first successful rendition and every further rendition
// is committed as soon as it is ready. A failed label is logged and skipped;
// it never aborts the job and is never retried. Commits are final — nothing
// is rolled back when a later step fails.
//
// Within one job encoding is strictly sequential to bound local resource
// use; different jobs run in parallel up to the pool size.
package transcode
