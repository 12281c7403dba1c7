package models

// All returns every persisted model in migration order.
func All() []interface{} {
	return []interface{}{
		&Account{},
		&LedgerEntry{},
		&Coupon{},
		&CouponRedemption{},
		&Content{},
		&Room{},
		&PerformerPlan{},
		&Purchase{},
		&GatewayCharge{},
		&Subscription{},
		&StreamToken{},
		&TokenRevocation{},
	}
}
