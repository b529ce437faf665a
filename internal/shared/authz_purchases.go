package shared

// Purchasing permissions declared for RBAC.
const (
	PermSupplierView = "purchases.supplier.view"

	PermPurchaseOrderView    = "purchases.order.view"
	PermPurchaseOrderCreate  = "purchases.order.create"
	PermPurchaseOrderEdit    = "purchases.order.edit"
	PermPurchaseOrderConfirm = "purchases.order.confirm"
	// PermPurchaseOrderReceive touches stock and payables.
	PermPurchaseOrderReceive = "purchases.order.receive"
	PermPurchaseOrderCancel  = "purchases.order.cancel"
)

// PurchaseScopes lists all permissions related to the purchasing module.
func PurchaseScopes() []string {
	return []string{
		PermSupplierView,
		PermPurchaseOrderView,
		PermPurchaseOrderCreate,
		PermPurchaseOrderEdit,
		PermPurchaseOrderConfirm,
		PermPurchaseOrderReceive,
		PermPurchaseOrderCancel,
	}
}
