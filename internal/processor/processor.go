// Package processor orchestrates the order forwarding pipeline:
// dedup check -> fetch/parse -> validate -> map -> submit -> record.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"posbridge/internal/bridge"
	"posbridge/internal/dedup"
	"posbridge/internal/mapper"
	"posbridge/internal/metrics"
)

// Source fetches and normalizes orders from the source platform.
type Source interface {
	FetchOrder(ctx context.Context, orderID string) (bridge.NormalizedOrder, error)
}

// Destination submits sales to the destination platform.
type Destination interface {
	CreateSale(ctx context.Context, payload bridge.SalePayload) error
}

// Processor owns no persistent state; it orchestrates the injected
// collaborators. Failure at any step short-circuits without marking the
// order processed, so retriable events can be reprocessed.
type Processor struct {
	source  Source
	dest    Destination
	dedup   dedup.Store
	mapOpts mapper.Options
	logger  *slog.Logger
	mreg    *metrics.Registry
}

func New(source Source, dest Destination, store dedup.Store, mapOpts mapper.Options, logger *slog.Logger, mreg *metrics.Registry) (*Processor, error) {
	if mapOpts.ShopID == "" {
		return nil, fmt.Errorf("processor: destination shop id must be configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		source:  source,
		dest:    dest,
		dedup:   store,
		mapOpts: mapOpts,
		logger:  logger,
		mreg:    mreg,
	}, nil
}

// ProcessOrderFromPayload forwards an order whose full data arrived with
// the inbound event.
func (p *Processor) ProcessOrderFromPayload(ctx context.Context, order bridge.NormalizedOrder) error {
	if err := p.checkDuplicate(order.ID); err != nil {
		return err
	}
	p.logger.Info("processing order from webhook payload", "orderId", order.ID)
	return p.process(ctx, order)
}

// ProcessByOrderID fetches the order from the source API and forwards it.
func (p *Processor) ProcessByOrderID(ctx context.Context, orderID string) error {
	if err := p.checkDuplicate(orderID); err != nil {
		return err
	}
	p.logger.Info("fetching order from source API", "orderId", orderID)
	order, err := p.source.FetchOrder(ctx, orderID)
	if err != nil {
		p.countFailure()
		return err
	}
	return p.process(ctx, order)
}

func (p *Processor) checkDuplicate(orderID string) error {
	if p.dedup != nil && p.dedup.IsDuplicate(orderID) {
		p.logger.Warn("order already processed, skipping duplicate", "orderId", orderID)
		if p.mreg != nil {
			p.mreg.OrdersDuplicate.Inc()
		}
		return fmt.Errorf("order %s: %w", orderID, bridge.ErrDuplicateOrder)
	}
	return nil
}

func (p *Processor) process(ctx context.Context, order bridge.NormalizedOrder) error {
	if err := order.Validate(); err != nil {
		p.logger.Warn("order failed validation, skipping",
			"orderId", order.ID, "itemCount", len(order.Items), "orderTotal", order.Total, "error", err)
		if p.mreg != nil {
			p.mreg.OrdersRejected.Inc()
		}
		return err
	}

	p.logger.Info("order validated, mapping to sale",
		"orderId", order.ID, "itemCount", len(order.Items), "orderTotal", order.Total)
	sale := mapper.MapToSale(order, p.mapOpts)

	p.logger.Info("creating sale at destination", "orderId", order.ID, "lineCount", len(sale.Lines))
	start := time.Now()
	if err := p.dest.CreateSale(ctx, sale); err != nil {
		p.countFailure()
		return fmt.Errorf("create sale for order %s: %w", order.ID, err)
	}
	if p.mreg != nil {
		p.mreg.SubmitLatencySec.Observe(time.Since(start).Seconds())
	}

	// Only after confirmed submission: a crash before this point means the
	// event is legitimately re-submitted on redelivery, and the
	// destination-side reference number reconciles the duplicate.
	if p.dedup != nil {
		p.dedup.MarkProcessed(order.ID)
	}
	if p.mreg != nil {
		p.mreg.OrdersForwarded.Inc()
	}
	p.logger.Info("order forwarded to destination", "orderId", order.ID, "saleReference", sale.ReferenceNumber)
	return nil
}

func (p *Processor) countFailure() {
	if p.mreg != nil {
		p.mreg.OrdersFailed.Inc()
	}
}
