package apiframework

// version is overridden at build time via -ldflags.
var version = "dev"

// GetVersion returns the build version of the server binary.
func GetVersion() string {
	return version
}

// AboutServer is the payload of the version endpoint.
type AboutServer struct {
	Version        string `json:"version"`
	NodeInstanceID string `json:"nodeInstanceID"`
	Tenancy        string `json:"tenancy"`
}
