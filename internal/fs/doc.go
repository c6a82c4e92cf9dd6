// Package fs abstracts the filesystem operations the local blob store needs,
// so tests can inject I/O failures into spill and index writes.
//
//   - [LocalFS]: the os-backed implementation, exposed as [Default]
//   - [FaultyFS]: wraps another FileSystem and fails writes, syncs, closes
//     or renames for files whose name matches a rule
//
// Example:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("spill-", fs.Fault{FailAfterBytes: 128})
//	store := blobstore.NewLocalStore(dir, blobstore.WithFileSystem(ffs))
//
// Operations take no context.Context; local syscalls are not interruptible.
// Slow remote I/O goes through the context-aware blobstore interfaces instead.
package fs
