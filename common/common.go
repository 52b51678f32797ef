package common

// PackageName is used as the metrics namespace and default log service name.
const PackageName = "mpc-helper"

// Version is set at build time via -ldflags "-X github.com/ruteri/mpc-helper/common.Version=...".
var Version = "dev"
