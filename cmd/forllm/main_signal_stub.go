//go:build excludemain

package main

import "context"

// Coverage builds do not install signal handlers; serve stops when its
// parent context is cancelled.
func init() {
	shutdownContext = context.WithCancel
}
