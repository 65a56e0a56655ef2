// Package workspace maps an input video to the working directory that holds
// its artifacts.
//
// A workspace is identified by the video's Fingerprint (absolute path, size,
// mtime) recorded in media.json. Resolve resumes a matching directory, adopts
// an empty one, and otherwise allocates a numbered sibling so another video's
// artifacts are never overwritten. Each resolved workspace is guarded by an
// exclusive gofrs/flock lock for the duration of a run.
package workspace
