// Package textutil provides the text helpers used for series matching:
// case folding, canonical keys and a sequence similarity ratio.
//
// Ratio follows the Ratcliff/Obershelp "gestalt pattern matching" measure:
// twice the number of matched characters divided by the total number of
// characters in both strings. Matching blocks are found recursively from the
// longest common substring outward, the same way difflib's SequenceMatcher
// does, so scores line up with historical match confidences.
package textutil
