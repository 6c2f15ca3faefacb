package domain

import "time"

// GrantKind distinguishes trial credit from paid subscription credit.
type GrantKind string

const (
	GrantTrial GrantKind = "trial"
	GrantPaid  GrantKind = "paid"
)

// CreditGrant is one block of prepaid credit ("magic points"). A user may
// hold several grants; charging always goes through the single active one,
// paid preferred over trial.
//
// Invariant: 0 <= Remains <= Init. Only the ledger mutates Remains, always
// inside one durable transaction.
type CreditGrant struct {
	ID        int64
	UID       int64
	Kind      GrantKind
	Init      int
	Remains   int
	CTime     time.Time
	UTime     time.Time
	ExpiresAt *time.Time
	Expired   bool
}

// Usable reports whether the grant can still be charged at the given time.
func (g *CreditGrant) Usable(now time.Time) bool {
	if g.Expired {
		return false
	}
	if g.ExpiresAt != nil && now.After(*g.ExpiresAt) {
		return false
	}
	return true
}
