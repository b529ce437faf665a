package shared

// Finance permissions declared for RBAC.
const (
	PermFinanceMovementView = "finance.movement.view"
	PermFinanceMovementPay  = "finance.movement.pay"
	PermFinanceMovementVoid = "finance.movement.void"
)

// FinanceScopes lists all permissions related to the finance module.
func FinanceScopes() []string {
	return []string{
		PermFinanceMovementView,
		PermFinanceMovementPay,
		PermFinanceMovementVoid,
	}
}
