// Package posting holds posting lists during index construction.
//
// An Accumulator maps n-grams to roaring64 bitmaps of row ids. Bitmaps give
// set semantics per n-gram (a row inserted twice is stored once) and keep
// row ids ordered, so drained lists are already sorted and unions during the
// merge are linear.
package posting
