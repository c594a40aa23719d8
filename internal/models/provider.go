package models

const (
	ProviderBolt   = "bolt"
	ProviderUber   = "uber"
	ProviderHeetch = "heetch"
)

const (
	ResourceDrivers   = "drivers"
	ResourceVehicles  = "vehicles"
	ResourceTrips     = "trips"
	ResourceEarnings  = "earnings"
	ResourcePayments  = "payments"
	ResourceStateLogs = "state_logs"
)
