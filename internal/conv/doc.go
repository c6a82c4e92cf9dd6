// Package conv provides checked integer conversions between the fixed-width
// fields of the index file and Go's int.
package conv
