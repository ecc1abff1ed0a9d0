// Command catenary is the entry point for the MCP-to-LSP bridge.
package main

import "github.com/MarkWells-Dev/Catenary/internal/cli"

func main() {
	cli.Execute()
}
