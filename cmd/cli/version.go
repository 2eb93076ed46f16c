package cli

import (
	"fmt"

	"github.com/knowhubhq/knowledge-exchange/upload-client/internal/version"
)

// PrintVersion writes the build information stamped in at link time. Builds
// without -ldflags report dev/unknown.
func PrintVersion() {
	tag := version.LatestReleaseTag
	if tag == "" {
		tag = "dev"
	}
	sha := version.GitShortSha
	if sha == "" {
		sha = "unknown"
	}
	fmt.Printf("upload-client %s (%s)\n", tag, sha)
	if version.GitRepo != "" {
		fmt.Println(version.GitRepo)
	}
} // .PrintVersion
