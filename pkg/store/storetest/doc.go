// Package storetest provides a conformance test suite for resource store
// implementations.
//
// All store backends (memory, badger, sqlite, postgres) should pass these
// tests. The suite verifies that every implementation satisfies the Store
// behavioral contract, catching regressions when backend code changes.
//
// Usage:
//
//	func TestConformance(t *testing.T) {
//	    storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
//	        return memory.New()
//	    })
//	}
//
// The factory function receives *testing.T so it can call t.TempDir() for
// backends that need filesystem paths and t.Cleanup for teardown.
package storetest
