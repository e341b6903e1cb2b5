package version

// AppVersion is the toolvm release version, overridable at link time
// via -ldflags "-X toolvm/internal/version.AppVersion=...".
var AppVersion = "0.1.0"
