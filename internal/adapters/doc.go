// Package adapters connects the agent to external decisioning platforms.
//
// Each configured platform is served by a PlatformAdapter chosen from its
// type: liveramp, rest or static. The Manager owns one Cache, rate limiter
// and circuit breaker per platform and fans discovery out to every platform
// the calling principal holds an account on.
//
//	mgr, err := adapters.NewManagerFromConfig(cfg)
//	results := mgr.Fetch(ctx, principal, nil)
//	for name, r := range results {
//	    if r.Failed() {
//	        log.Printf("%s: %s", name, r.Failure)
//	    }
//	}
//
// A platform failure never fails the fetch. It is reported in the platform's
// AdapterResult as auth_error, timeout or unavailable.
package adapters
