package model

// Stage is a card's position in the replenishment cycle.
type Stage string

const (
	StageCreated   Stage = "created"
	StageTriggered Stage = "triggered"
	StageOrdered   Stage = "ordered"
	StageInTransit Stage = "in_transit"
	StageReceived  Stage = "received"
	StageRestocked Stage = "restocked"
)

// Stages lists every stage in cycle order.
var Stages = []Stage{
	StageCreated,
	StageTriggered,
	StageOrdered,
	StageInTransit,
	StageReceived,
	StageRestocked,
}

func (s Stage) Valid() bool {
	for _, v := range Stages {
		if v == s {
			return true
		}
	}
	return false
}

// LoopType selects the replenishment path a card follows.
type LoopType string

const (
	LoopProcurement LoopType = "procurement"
	LoopProduction  LoopType = "production"
	LoopTransfer    LoopType = "transfer"
)

var LoopTypes = []LoopType{LoopProcurement, LoopProduction, LoopTransfer}

// Method is how a transition was initiated.
type Method string

const (
	MethodQRScan Method = "qr_scan"
	MethodManual Method = "manual"
	MethodSystem Method = "system"
)

var Methods = []Method{MethodQRScan, MethodManual, MethodSystem}

// OrderType identifies which linked-order slot on the card is used.
type OrderType string

const (
	OrderPurchase OrderType = "purchase_order"
	OrderWork     OrderType = "work_order"
	OrderTransfer OrderType = "transfer_order"
)

var OrderTypes = []OrderType{OrderPurchase, OrderWork, OrderTransfer}
