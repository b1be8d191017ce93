// Package cmd wires the cloudctl cobra commands. The root command resolves
// configuration from flags, CLOUDCTL_* environment variables and the config
// file, in that order, and builds one authenticator per process.
package cmd
