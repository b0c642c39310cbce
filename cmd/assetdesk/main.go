// Command assetdesk is the asset-management console CLI and development
// backend.
package main

import "github.com/mesh-intelligence/assetdesk/internal/cli"

func main() {
	cli.Execute()
}
