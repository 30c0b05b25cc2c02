/*
Package config binds the control plane's runtime knobs to environment
variables via viper.

Interval and timeout variables are plain integers in seconds
(HEALTH_CHECK_INTERVAL=60, DEPLOY_TIMEOUT=1800); Load converts them to
durations. Everything has a default except the credentials and the root
domain, which Validate enforces before the server starts.

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal(err.Error())
	}
*/
package config
