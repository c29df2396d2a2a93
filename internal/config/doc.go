// Package config defines the application's configuration structure and the
// loading of configuration values from the environment. All settings carry
// validation tags and are checked at startup so misconfiguration fails fast.
package config
