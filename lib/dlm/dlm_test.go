package dlm_test

import (
	"testing"

	"github.com/arannis-dev/qlock/lib/dlm/dlmtesting"
	"github.com/arannis-dev/qlock/lib/store"
	"github.com/arannis-dev/qlock/lib/store/memstore"
)

func TestProtocol(t *testing.T) {
	dlmtesting.RunProtocolTests(t, "memstore", func() store.Adapter {
		return memstore.NewMemStore()
	})
}
