// Package startup handles process bring-up: configuration loading,
// data directory preparation, build information, and the structured
// startup log banner.
package startup
