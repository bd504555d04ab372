// Package updater is the host-facing API of the proxy.
//
// New resolves the latest release of a private repository; Serve claims a
// local address and starts answering update requests; Shutdown stops the
// listener. A PrivUpdater serves at most once: after it stops, build a new
// one with New.
//
//	u, err := updater.Serve(ctx, "Acme", "App", token)
//	if err != nil {
//		return err
//	}
//	defer u.Shutdown()
//	// Point the update client at u.BaseURL() + "/latest.json".
package updater
