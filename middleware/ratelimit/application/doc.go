// Package application holds the use cases of admission control: counting a request
// against a key's quota (Service.Admit), probing the quota left (Service.RemainingFor),
// and acquiring an in-flight slot with a timeout (ConcurrencyService.Acquire).
//
// It depends only on the domain package and does not know net/http.
package application
