// Command appsynclocal compiles schemas and generates handler registries.
// Serving handlers requires a binary that links them in; see devserver.Main.
package main

import "github.com/hanpama/appsynclocal/devserver"

func main() { devserver.Main(nil) }
