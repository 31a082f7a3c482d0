// Program mcli is a command line wallet and operator tool for a MathCoin node.
package main

import "github.com/mathcoin/node/app/tooling/mcli/cmd"

func main() {
	cmd.Execute()
}
