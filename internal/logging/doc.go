// Package logging provides the leveled logging interface used across
// the media catalog server.
//
// Levels, from most to least verbose: DEBUG, INFO, WARN, ERROR. The
// active level comes from the LOG_LEVEL environment variable (DEBUG=1
// is a shortcut for debug level) and defaults to INFO.
package logging
