// Package resource governs the process-wide budgets shared by index builds
// and loaded indexes.
//
//   - Memory: posting-block caches account their bytes here, so several
//     loaded indexes share one ceiling.
//   - Background slots: a build holds one slot while a spill segment is
//     written in the background; a second spill waits for the slot.
//   - IO: a token bucket throttles spill and index writes so a large build
//     does not starve query-time block fetches on the same disk.
//
// Example:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     1 << 30,
//	    MaxBackgroundWorkers: 2,
//	    IOLimitBytesPerSec:   200 << 20,
//	})
//
//	b, _ := ngram.NewBuilder(store, ngram.WithResourceController(rc))
//
// All methods are safe for concurrent use, and a nil *Controller is a valid
// unlimited controller.
package resource
