// Package gate decides which transcribed segments become subtitles.
//
// Evaluate is a pure function of a segment and the [gate] configuration.
// Checks run in a fixed order and the first failure names the reject
// reason: empty text, malformed or out-of-bounds confidence metrics, too
// few characters, too many characters per second, too little target
// script, one character dominating, punctuation only.
//
// Gate.Apply adds the optional salvage retry: a segment that fails only
// its confidence metrics is transcribed once more with alternate decoding
// options and evaluated again. Rejected segments stay in the output so the
// block builder can treat them as hard boundaries.
package gate
