// Package logging builds the zap logger used across cycled.
//
// Agent processes are short-lived; logs go to stderr (JSON in production,
// console for local runs) and are collected by the process runtime.
package logging
