package types

import "time"

// ProviderStatus is the observable state of one RPC endpoint, both
// the admin surface row and the persisted form. Runtime counters are
// owned by the pool; this struct is a read-only projection.
type ProviderStatus struct {
	Network        string    `bson:"network" json:"network"`
	ProviderID     string    `bson:"providerId" json:"providerId"`
	Weight         int       `bson:"weight" json:"weight"`
	RateLimit      int       `bson:"rateLimit" json:"rateLimit"` // requests per minute
	Enabled        bool      `bson:"enabled" json:"enabled"`
	Healthy        bool      `bson:"healthy" json:"healthy"`
	RequestCount   uint64    `bson:"requestCount" json:"requestCount"`
	ErrorCount     uint64    `bson:"errorCount" json:"errorCount"`
	InFlight       int       `bson:"inFlight" json:"inFlight"`
	LastError      string    `bson:"lastError,omitempty" json:"lastError,omitempty"`
	CooldownUntil  time.Time `bson:"cooldownUntil,omitempty" json:"cooldownUntil,omitempty"`
	CooldownLeftMs int64     `bson:"cooldownLeftMs" json:"cooldownLeftMs"`
	UpdatedAt      time.Time `bson:"updatedAt" json:"updatedAt"`
}
