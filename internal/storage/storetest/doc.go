// Package storetest provides a conformance suite that every storage.BlobStore
// backend runs from its own tests, plus a recording listener for asserting
// change notifications.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//		storetest.RunConformanceTests(t, func(t *testing.T) storage.BlobStore {
//			return newTestStore(t)
//		})
//	}
package storetest
