package domain

// Catalog entities are owned elsewhere; the booking core only reads the
// fields it needs to price a stay and to gate cancellation.

type Tenant struct {
	ID            int64
	Name          string
	CommissionBps int // platform cut in basis points (1500 = 15%)
}

type Property struct {
	ID       int64
	TenantID int64
	Name     string
	Country  *string
	City     *string
}

type RoomType struct {
	ID         int64
	PropertyID int64
	Name       string
}

type RatePlan struct {
	ID                  int64
	RoomTypeID          int64
	Name                string
	NightlyMinor        int64 // canonical currency minor units
	Currency            string
	Refundable          bool
	CancelDeadlineHours int
	PolicyText          *string
}

// RoomRateView is the joined read used at checkout: the rate plan with its
// room, property and owning tenant, verified to form one chain.
type RoomRateView struct {
	Tenant   Tenant
	Property Property
	Room     RoomType
	Rate     RatePlan
}
