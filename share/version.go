package simshare

// BuildVersion is the version reported by /version and "simrelay version". It is
// overridden at link time with -ldflags "-X github.com/sammck-go/simrelay/share.BuildVersion=..."
var BuildVersion = "0.0.0-src"
