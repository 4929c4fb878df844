//go:build !excludemain

package main

import "os"

// main hands the process arguments to runApp and exits with its code.
func main() {
	exitFunc(runApp(os.Args))
}
