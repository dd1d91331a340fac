// Package domain defines the types and contracts of request-rate admission control.
//
// It depends on neither net/http nor any concrete store. QuotaRecord.Admit holds the
// fixed-window transition itself, so every store (memory, Redis) shares one
// definition of what "admit" means and the rules can be unit tested in isolation.
package domain
