// Package handlers contains reusable HTTP building blocks: health checks,
// API key authentication and middleware.
//
// # Health Checks
//
// Named checks run in parallel, each under its own timeout:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddCheck("redis", func(ctx context.Context) error {
//	    return rdb.Ping(ctx).Err()
//	})
//
// # Authentication
//
// API keys are configured as bcrypt hashes ("name:hash,..."). Callers send
// the plaintext key in X-API-Key or as a Bearer token; the matched key name
// is available through CallerFromContext.
//
//	keys, err := handlers.ParseAPIKeys(os.Getenv("API_KEYS"))
//	auth := handlers.NewAPIKeyAuth("X-API-Key", keys)
//	mux.Handle("/api/", auth.Middleware(api))
package handlers
