package lifecycle

import (
	"slices"

	"kanban/internal/model"
)

// Role is the acting user's tenant role.
type Role string

const (
	RoleTenantAdmin        Role = "tenant_admin"
	RoleInventoryManager   Role = "inventory_manager"
	RoleProcurementManager Role = "procurement_manager"
	RoleProductionManager  Role = "production_manager"
	RoleReceivingManager   Role = "receiving_manager"
	RoleOperator           Role = "operator"
	// RolePublicScan is the actor for unauthenticated QR scans; the physical card is the credential.
	RolePublicScan Role = "public_scan"
)

// TransitionRule describes one edge of the stage graph.
type TransitionRule struct {
	From model.Stage
	To   model.Stage

	AllowedRoles     []Role
	AllowedLoopTypes []model.LoopType
	AllowedMethods   []model.Method

	RequiresLinkedOrder bool
	LinkedOrderTypes    []model.OrderType

	Description string
}

// stageGraph is the declared set of edges. Every edge has exactly one rule in transitionRules.
var stageGraph = map[model.Stage][]model.Stage{
	model.StageCreated:   {model.StageTriggered},
	model.StageTriggered: {model.StageOrdered},
	model.StageOrdered:   {model.StageInTransit, model.StageReceived},
	model.StageInTransit: {model.StageReceived},
	model.StageReceived:  {model.StageRestocked},
	model.StageRestocked: {model.StageCreated},
}

var transitionRules = []TransitionRule{
	{
		From:             model.StageCreated,
		To:               model.StageTriggered,
		AllowedRoles:     []Role{RoleInventoryManager, RoleProcurementManager, RoleProductionManager, RoleReceivingManager, RoleOperator, RolePublicScan},
		AllowedLoopTypes: model.LoopTypes,
		AllowedMethods:   []model.Method{model.MethodQRScan, model.MethodManual},
		Description:      "card pulled from the bin; replenishment signal raised",
	},
	{
		From:                model.StageTriggered,
		To:                  model.StageOrdered,
		AllowedRoles:        []Role{RoleInventoryManager, RoleProcurementManager, RoleProductionManager},
		AllowedLoopTypes:    model.LoopTypes,
		AllowedMethods:      []model.Method{model.MethodManual, model.MethodSystem},
		RequiresLinkedOrder: true,
		LinkedOrderTypes:    model.OrderTypes,
		Description:         "purchase, work or transfer order placed for the card",
	},
	{
		From:             model.StageOrdered,
		To:               model.StageInTransit,
		AllowedRoles:     []Role{RoleInventoryManager, RoleProcurementManager, RoleReceivingManager},
		AllowedLoopTypes: []model.LoopType{model.LoopProcurement, model.LoopTransfer},
		AllowedMethods:   model.Methods,
		Description:      "goods shipped by supplier or source facility",
	},
	{
		From:             model.StageOrdered,
		To:               model.StageReceived,
		AllowedRoles:     []Role{RoleInventoryManager, RoleProductionManager, RoleReceivingManager, RoleOperator},
		AllowedLoopTypes: []model.LoopType{model.LoopProduction},
		AllowedMethods:   model.Methods,
		Description:      "production finished on site; no transit leg",
	},
	{
		From:             model.StageInTransit,
		To:               model.StageReceived,
		AllowedRoles:     []Role{RoleInventoryManager, RoleReceivingManager, RoleOperator},
		AllowedLoopTypes: []model.LoopType{model.LoopProcurement, model.LoopTransfer},
		AllowedMethods:   model.Methods,
		Description:      "goods received at the dock",
	},
	{
		From:             model.StageReceived,
		To:               model.StageRestocked,
		AllowedRoles:     []Role{RoleInventoryManager, RoleReceivingManager, RoleOperator},
		AllowedLoopTypes: model.LoopTypes,
		AllowedMethods:   []model.Method{model.MethodQRScan, model.MethodManual},
		Description:      "goods put away into the bin",
	},
	{
		From:             model.StageRestocked,
		To:               model.StageCreated,
		AllowedRoles:     []Role{RoleInventoryManager, RoleOperator},
		AllowedLoopTypes: model.LoopTypes,
		AllowedMethods:   []model.Method{model.MethodManual, model.MethodSystem},
		Description:      "card returned to the bin; cycle complete",
	},
}

// IsValidTransition reports whether to is reachable from from in one step, ignoring loop type.
func IsValidTransition(from, to model.Stage) bool {
	return slices.Contains(stageGraph[from], to)
}

// NextStages returns the stages reachable from from.
func NextStages(from model.Stage) []model.Stage {
	return slices.Clone(stageGraph[from])
}

// FindRule returns the rule for the edge from -> to.
func FindRule(from, to model.Stage) (TransitionRule, bool) {
	if !IsValidTransition(from, to) {
		return TransitionRule{}, false
	}
	for _, r := range transitionRules {
		if r.From == from && r.To == to {
			return r, true
		}
	}
	return TransitionRule{}, false
}

// Rules returns a copy of the rule table.
func Rules() []TransitionRule {
	return slices.Clone(transitionRules)
}

// AllowsRole reports whether role may take this edge. tenant_admin always may.
func (r TransitionRule) AllowsRole(role Role) bool {
	return role == RoleTenantAdmin || slices.Contains(r.AllowedRoles, role)
}

func (r TransitionRule) AllowsLoopType(t model.LoopType) bool {
	return slices.Contains(r.AllowedLoopTypes, t)
}

func (r TransitionRule) AllowsMethod(m model.Method) bool {
	return slices.Contains(r.AllowedMethods, m)
}

func (r TransitionRule) AcceptsOrderType(t model.OrderType) bool {
	return slices.Contains(r.LinkedOrderTypes, t)
}
