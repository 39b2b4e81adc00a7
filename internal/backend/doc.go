// Package backend defines the speech-to-text engine interface shared by the
// batch worker pool and streaming sessions, along with a registry that maps
// engine names to implementations.
package backend
