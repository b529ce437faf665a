package shared

// Sales and stock permissions declared for RBAC.
const (
	PermSalesOrderView    = "sales.order.view"
	PermSalesOrderCreate  = "sales.order.create"
	PermSalesOrderEdit    = "sales.order.edit"
	PermSalesOrderConfirm = "sales.order.confirm"
	PermSalesOrderCancel  = "sales.order.cancel"

	PermStockProductView    = "stock.product.view"
	PermStockMovementView   = "stock.movement.view"
	PermStockMovementCreate = "stock.movement.create"
)

// SalesScopes lists all permissions related to the sales module.
func SalesScopes() []string {
	return []string{
		PermSalesOrderView,
		PermSalesOrderCreate,
		PermSalesOrderEdit,
		PermSalesOrderConfirm,
		PermSalesOrderCancel,
	}
}

// StockScopes lists all permissions related to the stock module.
func StockScopes() []string {
	return []string{
		PermStockProductView,
		PermStockMovementView,
		PermStockMovementCreate,
	}
}

// AllScopes returns every permission code known to the application.
func AllScopes() []string {
	var all []string
	all = append(all, CoreScopes()...)
	all = append(all, PurchaseScopes()...)
	all = append(all, SalesScopes()...)
	all = append(all, StockScopes()...)
	all = append(all, FinanceScopes()...)
	return all
}
