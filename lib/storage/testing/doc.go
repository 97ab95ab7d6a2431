// Package testing provides a standardised conformance suite for implementations
// of storage.IRecordStore.
//
// Example usage:
//
//	func Test(t *testing.T) {
//		storetesting.RunRecordStoreTests(t, "MyStore", func(t testing.TB) storage.IRecordStore {
//			return NewMyStore(t.TempDir())
//		})
//	}
//
// Tests that need a feature the store does not advertise via SupportsFeature are skipped.
package testing
