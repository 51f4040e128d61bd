// Package gate blocks an agent until its upstream dependencies have
// published handoff artifacts.
//
// The gate watches the artifact directory with fsnotify and polls with
// exponential backoff as a fallback, bounded by a maximum wait. Blocked
// status is reported to the caller on every check so it is externally
// observable; there is no silent infinite wait.
package gate
