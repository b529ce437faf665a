package memstore

import (
	"io"
	"log/slog"

	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/procurement"
	"github.com/odyssey-erp/authzcore/internal/sales"
)

// Domain bundles the domain services wired against one store, the same way the
// runtime wires them against PostgreSQL.
type Domain struct {
	Store       *Store
	Inventory   *inventory.Service
	Finance     *finance.Service
	Procurement *procurement.Service
	Sales       *sales.Service
}

// NewDomain builds a fresh store and its services. Logs are discarded.
func NewDomain(policy finance.Policy) *Domain {
	store := New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	inv := inventory.NewService(store.Inventory(), store, logger)
	fin := finance.NewService(store.Finance(), store, policy, logger)
	return &Domain{
		Store:       store,
		Inventory:   inv,
		Finance:     fin,
		Procurement: procurement.NewService(store.Procurement(), inv, fin, store, logger),
		Sales:       sales.NewService(store.Sales(), inv, fin, store, logger),
	}
}
