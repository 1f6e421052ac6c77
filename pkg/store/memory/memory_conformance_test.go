package memory_test

import (
	"testing"

	"github.com/tilevault/tilevault/pkg/store"
	"github.com/tilevault/tilevault/pkg/store/memory"
	"github.com/tilevault/tilevault/pkg/store/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	storetest.RunConformanceSuite(t, func(t *testing.T) store.Store {
		s := memory.New()
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
