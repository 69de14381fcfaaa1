// Package broker hands live-mode orders off to the external brokerage.
// Paper orders never reach this package.
package broker

import (
	"context"

	"alert-pipelinev1/internal/model"
)

// Broker places live orders with an external brokerage.
type Broker interface {
	PlaceOrder(ctx context.Context, o *model.Order) error
	ModifyOrder(ctx context.Context, o *model.Order) error
	CancelOrder(ctx context.Context, o *model.Order) error
}
