package banner

import "fmt"

const banner = `
 ██████╗██╗  ██╗ █████╗ ████████╗ ██████╗ █████╗  ██████╗██╗  ██╗███████╗
██╔════╝██║  ██║██╔══██╗╚══██╔══╝██╔════╝██╔══██╗██╔════╝██║  ██║██╔════╝
██║     ███████║███████║   ██║   ██║     ███████║██║     ███████║█████╗
██║     ██╔══██║██╔══██║   ██║   ██║     ██╔══██║██║     ██╔══██║██╔══╝
╚██████╗██║  ██║██║  ██║   ██║   ╚██████╗██║  ██║╚██████╗██║  ██║███████╗
 ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝    ╚═════╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝╚══════╝
`

// Print writes the inspection server's startup banner.
func Print(addr, driver string, schemaVersion int) {
	fmt.Print(banner)
	fmt.Println("== Store ======================================================")
	fmt.Printf("Driver:   %s\n", driver)
	fmt.Printf("Schema:   v%d\n", schemaVersion)
	fmt.Println("\n== Endpoints ==================================================")
	fmt.Printf("GET http://%s/keys?prefix=<p>  - list stored keys\n", addr)
	fmt.Printf("GET http://%s/value?key=<k>    - dump one entry\n", addr)
	fmt.Printf("GET http://%s/version          - schema version marker\n", addr)
	fmt.Printf("GET http://%s/metrics          - storage op metrics\n", addr)
}
