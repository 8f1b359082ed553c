// Package lpg builds locally consistent context-free grammars that
// losslessly encode byte texts, and provides services over the finished
// grammar: full and per-string decompression and the Burrows-Wheeler
// transform of the text.
//
// Compression runs the text through parsing rounds. Each round discovers
// locally consistent phrases in parallel, merges the per-worker phrase
// tables, suffix-sorts the round's dictionary to assign dense lexicographic
// ranks, and rewrites the text as the sequence of assigned nonterminals.
// Rounds repeat until the parse stops shrinking; run-length rules then
// collapse symbol runs and the final parse becomes the start rule.
package lpg
