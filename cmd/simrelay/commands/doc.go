// Package commands implements the simrelay command line: "serve" runs a relay
// between a simulation (over stdin/stdout) and remote operators, "connect" is an
// operator client, "gencert" writes a certificate for the encrypted listener.
package commands
