package logic

// Cm0Values holds the base unit economics of a product.
type Cm0Values struct {
	ShippingRevenue float64 `json:"shipping_revenue"`
	NetRetail       float64 `json:"net_retail"`
	WholesalePrice  float64 `json:"wholesale_price"`
}

// Cm1Values adds return and cancellation costs on top of Cm0Values.
// Rates are fractions in [0,1] by convention; nothing enforces it.
type Cm1Values struct {
	Cm0Values
	ReturnRate        float64 `json:"return_rate"`
	ReturnShipping    float64 `json:"return_shipping"`
	ReturnFulfillment float64 `json:"return_fulfillment"`
	CancellationRate  float64 `json:"cancellation_rate"`
	Depreciation      float64 `json:"depreciation"`
}

// Cm2Values adds logistics, payment and refund costs on top of Cm1Values.
// PaymentCost and Refunds are rates applied to the retail price.
type Cm2Values struct {
	Cm1Values
	OutboundShipping float64 `json:"outbound_shipping"`
	InboundShipping  float64 `json:"inbound_shipping"`
	Packaging        float64 `json:"packaging"`
	Fulfillment      float64 `json:"fulfillment"`
	PaymentCost      float64 `json:"payment_cost"`
	Refunds          float64 `json:"refunds"`
	RetailPrice      float64 `json:"retail_price"`
}

// MarginCalculation is a margin in money (Absolute) and as a percentage of
// net retail (Relative, 0-100 scale).
type MarginCalculation struct {
	Absolute float64 `json:"absolute"`
	Relative float64 `json:"relative"`
}

// MarginBreakdown is the whole cascade evaluated for one record.
type MarginBreakdown struct {
	CM0 MarginCalculation `json:"cm0"`
	CM1 MarginCalculation `json:"cm1"`
	CM2 MarginCalculation `json:"cm2"`
}

func relativeMargin(absolute, netRetail float64) float64 {
	return (absolute / netRetail) * 100
}

// CM0 is revenue minus the wholesale price.
func CM0(v Cm0Values) MarginCalculation {
	absolute := v.ShippingRevenue + v.NetRetail - v.WholesalePrice
	return MarginCalculation{
		Absolute: absolute,
		Relative: relativeMargin(absolute, v.NetRetail),
	}
}

// CM1 deducts expected return handling and cancellation depreciation from CM0.
func CM1(v Cm1Values) MarginCalculation {
	cm0 := CM0(v.Cm0Values)

	absolute := cm0.Absolute -
		v.ReturnRate*(v.ReturnShipping+v.ReturnFulfillment) -
		v.CancellationRate*v.Depreciation*v.NetRetail

	return MarginCalculation{
		Absolute: absolute,
		Relative: relativeMargin(absolute, v.NetRetail),
	}
}

// CM2 deducts logistics, payment and reclamation costs from CM1.
func CM2(v Cm2Values) MarginCalculation {
	cm1 := CM1(v.Cm1Values)

	logistics := v.InboundShipping + v.Packaging + v.Fulfillment + v.OutboundShipping +
		v.PaymentCost*(v.ShippingRevenue+v.RetailPrice) +
		v.Refunds*v.RetailPrice

	absolute := cm1.Absolute - logistics
	return MarginCalculation{
		Absolute: absolute,
		Relative: relativeMargin(absolute, v.NetRetail),
	}
}

// Breakdown evaluates all three levels of the cascade.
func Breakdown(v Cm2Values) MarginBreakdown {
	return MarginBreakdown{
		CM0: CM0(v.Cm0Values),
		CM1: CM1(v.Cm1Values),
		CM2: CM2(v),
	}
}
