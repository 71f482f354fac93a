package maintenance

import (
	"github.com/louisbranch/shopping-cart/internal/services/cart/projection"
)

// closableReadModel extends the projection store with a Close method for
// resource cleanup.
type closableReadModel interface {
	projection.Store
	Close() error
}

// sharedReadModel wraps a read model whose connection is owned elsewhere.
type sharedReadModel struct {
	projection.Store
	close func() error
}

func (m sharedReadModel) Close() error {
	if m.close == nil {
		return nil
	}
	return m.close()
}
