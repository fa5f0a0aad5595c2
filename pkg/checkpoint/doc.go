// Package checkpoint records the progress of relation fetches so an
// interrupted check can resume at the page after the last saved one.
//
// A checkpoint holds the cursor, the page count and the identities fetched
// so far for one check and one relation (following or followers). The
// FileStore keeps each checkpoint in its own JSON file, replaced atomically
// on every save. The sqlite store in internal/store implements the same
// Store interface.
//
// Page counts only move forward: saving a checkpoint with fewer pages than
// the stored one fails with ErrStaleCheckpoint.
package checkpoint
