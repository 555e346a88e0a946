// Command networkkit drives a workstation from the command line.
//
//	networkkit fetch https://api.example.com/items https://api.example.com/users
//	networkkit download -progress -output ./files https://example.com/big.iso
//	networkkit upload -file report.json https://api.example.com/reports
//	networkkit serve -addr :8080
//
// Configuration is layered: defaults, then -config (YAML), then the
// environment (NETWORKKIT_ variables, optionally from -env), then flags.
package main
